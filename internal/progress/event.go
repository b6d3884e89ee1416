package progress

import (
	"context"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Event is published after an outbox command reaches the backend.
type Event struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Kind       CommandKind            `json:"kind"`
	LessonID   string                 `json:"lesson_id,omitempty"`
	Amount     int                    `json:"amount,omitempty"`
	Progress   *domain.ProgressUpdate `json:"progress,omitempty"`
	Streak     *domain.StreakResult   `json:"streak,omitempty"`
	Stats      *domain.UserStats      `json:"stats,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Publisher announces delivered progress.
type Publisher interface {
	PublishProgress(ctx context.Context, ev Event) error
}

func eventFor(cmd Command, at time.Time) Event {
	return Event{
		ID:         cmd.ID,
		UserID:     cmd.UserID,
		Kind:       cmd.Kind,
		LessonID:   cmd.LessonID,
		Amount:     cmd.Amount,
		Progress:   cmd.Progress,
		OccurredAt: at,
	}
}
