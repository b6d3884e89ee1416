package session

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// ErrNotFound is returned by stores for unknown session ids.
var ErrNotFound = errors.New("session not found")

// SessionStore defines the persistence interface for sessions.
type SessionStore interface {
	Save(session *Session) error
	Get(id string) (*Session, error)
	Delete(id string) error
	ListActive() ([]*Session, error)
}

// Catalog is the part of the backend the runtime reads when a lesson is
// opened.
type Catalog interface {
	GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error)
	GetUserStats(ctx context.Context, userID string) (domain.UserStats, error)
}

// Dispatcher carries out progression effects. A returned badge is shown
// on the session.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *Session, eff Effect) (*domain.Badge, error)
}

// PartResolver picks the active part of a multi-part lesson.
type PartResolver interface {
	CurrentPart(ctx context.Context, userID string, l domain.Lesson) int
}

// ClientCache is the per-user local cache of quiz and review payloads.
type ClientCache interface {
	SetActiveLesson(l domain.Lesson) error
	SaveQuiz(lessonID string, part int, qs []domain.Question) error
	Quiz(lessonID string, part int) ([]domain.Question, bool)
	SaveReview(qs []domain.Question) error
	Review() ([]domain.Question, bool)
}

// Scheduler runs fn after d and returns a function that cancels it.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}
