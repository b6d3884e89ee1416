package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/cadence/internal/progress"
)

// Producer publishes progress events to the queue
type Producer struct {
	conn *Connection
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

var _ progress.Publisher = (*Producer)(nil)

// PublishProgress publishes one delivered progress event
func (p *Producer) PublishProgress(ctx context.Context, ev progress.Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	err := p.conn.PublishJSON(ctx, ProgressQueueName, ev,
		WithMessageID(ev.ID),
		WithType(string(ev.Kind)),
	)
	if err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	slog.Debug("published progress event",
		"event_id", ev.ID,
		"user_id", ev.UserID,
		"kind", ev.Kind,
	)
	return nil
}
