// Package progress carries lesson effects to the progression backend:
// XP, hearts, lesson progress and streaks.
package progress

import (
	"context"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/session"
)

// Backend is the progression store. Implementations keep hearts and XP
// at or above zero.
type Backend interface {
	GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error)
	GetUserProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error)
	GetUserStats(ctx context.Context, userID string) (domain.UserStats, error)
	LoseHeart(ctx context.Context, userID, lessonID string) (domain.UserStats, error)
	RefillHearts(ctx context.Context, userID string) (domain.UserStats, error)
	AddXP(ctx context.Context, userID string, amount int) (domain.UserStats, error)
	UpdateStreak(ctx context.Context, userID string) (domain.StreakResult, error)
	UpdateLessonProgress(ctx context.Context, userID string, u domain.ProgressUpdate) (domain.LessonProgress, error)

	// SaveLessons upserts catalog entries.
	SaveLessons(ctx context.Context, lessons []domain.Lesson) error
}

// A Backend is all the session runtime needs to open lessons.
var _ session.Catalog = (Backend)(nil)
