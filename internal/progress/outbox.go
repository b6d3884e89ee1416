package progress

import (
	"context"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/google/uuid"
)

// CommandKind names a backend call held in the outbox.
type CommandKind string

const (
	CommandAddXP          CommandKind = "add_xp"
	CommandLoseHeart      CommandKind = "lose_heart"
	CommandLessonProgress CommandKind = "lesson_progress"
	CommandUpdateStreak   CommandKind = "update_streak"
)

// CommandStatus tracks delivery of an outbox command.
type CommandStatus string

const (
	StatusPending   CommandStatus = "pending"
	StatusDelivered CommandStatus = "delivered"
	StatusDead      CommandStatus = "dead"
)

// Command is one backend call waiting for at-least-once delivery.
type Command struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id"`
	Kind          CommandKind            `json:"kind"`
	LessonID      string                 `json:"lesson_id,omitempty"`
	Amount        int                    `json:"amount,omitempty"`
	Progress      *domain.ProgressUpdate `json:"progress,omitempty"`
	Status        CommandStatus          `json:"status"`
	Attempts      int                    `json:"attempts"`
	NextAttemptAt time.Time              `json:"next_attempt_at"`
	LastError     string                 `json:"last_error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	DeliveredAt   *time.Time             `json:"delivered_at,omitempty"`
}

// NewCommand creates a pending command due immediately.
func NewCommand(userID string, kind CommandKind) Command {
	now := time.Now()
	return Command{
		ID:            uuid.New().String(),
		UserID:        userID,
		Kind:          kind,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// OutboxStore persists commands until the backend accepts them.
type OutboxStore interface {
	Enqueue(ctx context.Context, cmd Command) error
	// Due returns pending commands with NextAttemptAt at or before now,
	// oldest first. A command is not due while an older pending command
	// of the same user is still waiting for its retry.
	Due(ctx context.Context, now time.Time, limit int) ([]Command, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// MarkFailed records a failed attempt. A dead command is never retried.
	MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error
	Pending(ctx context.Context) (int, error)
	// Purge deletes delivered commands delivered before the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
