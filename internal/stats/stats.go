// Package stats builds the learner's progress overview.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/felixgeelhaar/cadence/internal/celebrate"
	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Source is the part of the backend the overview reads.
type Source interface {
	GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error)
	GetUserProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error)
	GetUserStats(ctx context.Context, userID string) (domain.UserStats, error)
}

// ActivitySource lists recent activity.
type ActivitySource interface {
	RecentActivity(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
}

// PendingCounter reports commands not yet delivered to the backend.
type PendingCounter interface {
	Pending(ctx context.Context) (int, error)
}

// CurrentLesson is the lesson the learner last opened.
type CurrentLesson struct {
	LessonID string `json:"lesson_id"`
	Number   int    `json:"number"`
	Category string `json:"category,omitempty"`
}

// CurrentLessonSource looks up a user's current lesson in local state.
type CurrentLessonSource func(userID string) (CurrentLesson, bool)

// Overview provides aggregate statistics
type Overview struct {
	UserID           string            `json:"user_id"`
	Hearts           int               `json:"hearts"`
	MaxHearts        int               `json:"max_hearts"`
	XP               int               `json:"xp"`
	Streak           int               `json:"streak"`
	NextMilestone    int               `json:"next_milestone,omitempty"`
	LastActive       *time.Time        `json:"last_active,omitempty"`
	LessonsTotal     int               `json:"lessons_total"`
	LessonsUnlocked  int               `json:"lessons_unlocked"`
	LessonsCompleted int               `json:"lessons_completed"`
	CompletionRate   float64           `json:"completion_rate"`
	AverageScore     float64           `json:"average_score"`
	Categories       []CategoryStat    `json:"categories"`
	RecentActivity   []domain.Activity `json:"recent_activity,omitempty"`
	PendingSync      int               `json:"pending_sync"`
	CurrentLesson    *CurrentLesson    `json:"current_lesson,omitempty"`
}

// CategoryStat represents progress through one lesson category
type CategoryStat struct {
	Category  string `json:"category"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Service computes overviews
type Service struct {
	source   Source
	activity ActivitySource // Optional
	pending  PendingCounter      // Optional
	current  CurrentLessonSource // Optional
	limit    int
}

// NewService creates a stats service
func NewService(source Source) *Service {
	return &Service{source: source, limit: 10}
}

// SetActivitySource sets where recent activity is read from
func (s *Service) SetActivitySource(a ActivitySource) {
	s.activity = a
}

// SetPendingCounter sets the outbox used for the pending sync count
func (s *Service) SetPendingCounter(p PendingCounter) {
	s.pending = p
}

// SetCurrentLessonSource sets where the current lesson is read from
func (s *Service) SetCurrentLessonSource(fn CurrentLessonSource) {
	s.current = fn
}

// GetOverview returns aggregate statistics for a user
func (s *Service) GetOverview(ctx context.Context, userID string) (*Overview, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}

	st, err := s.source.GetUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	lessons, err := s.source.GetUserLessons(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user lessons: %w", err)
	}
	records, err := s.source.GetUserProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user progress: %w", err)
	}

	o := &Overview{
		UserID:        userID,
		Hearts:        st.Hearts,
		MaxHearts:     domain.MaxHearts,
		XP:            st.XP,
		Streak:        st.Streak,
		NextMilestone: celebrate.NextMilestone(st.Streak),
		LastActive:    st.LastActive,
		LessonsTotal:  len(lessons),
	}

	o.Categories = categories(lessons)
	for _, l := range lessons {
		if l.Unlocked {
			o.LessonsUnlocked++
		}
		if l.Completed {
			o.LessonsCompleted++
		}
	}
	if o.LessonsTotal > 0 {
		o.CompletionRate = float64(o.LessonsCompleted) / float64(o.LessonsTotal)
	}
	o.AverageScore = averageScore(records)

	if s.activity != nil {
		recent, err := s.activity.RecentActivity(ctx, userID, s.limit)
		if err != nil {
			slog.Warn("failed to read recent activity", "user", userID, "error", err)
		}
		o.RecentActivity = recent
	}
	if s.pending != nil {
		n, err := s.pending.Pending(ctx)
		if err != nil {
			slog.Warn("failed to count pending commands", "error", err)
		}
		o.PendingSync = n
	}
	if s.current != nil {
		if cur, ok := s.current(userID); ok {
			o.CurrentLesson = &cur
		}
	}

	return o, nil
}

func categories(lessons []domain.Lesson) []CategoryStat {
	byName := make(map[string]*CategoryStat)
	for _, l := range lessons {
		c, ok := byName[l.Category]
		if !ok {
			c = &CategoryStat{Category: l.Category}
			byName[l.Category] = c
		}
		c.Total++
		if l.Completed {
			c.Completed++
		}
	}

	out := make([]CategoryStat, 0, len(byName))
	for _, c := range byName {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// averageScore is the mean best score over attempted lessons, to one
// decimal place.
func averageScore(records []domain.LessonProgress) float64 {
	var sum, n int
	for _, p := range records {
		if p.Attempts == 0 {
			continue
		}
		sum += p.BestScore
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(n)*10) / 10
}
