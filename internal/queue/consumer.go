package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/progress"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ActivityRecorder stores consumed progress events.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a domain.Activity) error
}

// Consumer consumes progress events into the activity log
type Consumer struct {
	conn       *Connection
	recorder   ActivityRecorder
	workers    int
	prefetch   int
	timeout    time.Duration
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int           // Number of concurrent workers
	Prefetch int           // Prefetch count per worker
	Timeout  time.Duration // Per-message recording timeout
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  2,
		Prefetch: 10,
		Timeout:  10 * time.Second,
	}
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, recorder ActivityRecorder, cfg ConsumerConfig) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Consumer{
		conn:     conn,
		recorder: recorder,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		timeout:  cfg.Timeout,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		ProgressQueueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual ack for reliability)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("starting progress consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

// worker processes messages from the queue
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				slog.Info("message channel closed", "worker_id", id)
				return
			}

			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage records a single event and acknowledges it
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	var ev progress.Event
	if err := json.Unmarshal(msg.Body, &ev); err != nil || ev.ID == "" || ev.UserID == "" {
		slog.Error("dropping malformed progress event",
			"worker_id", workerID,
			"message_id", msg.MessageId,
			"error", err,
		)
		// Reject without requeue for malformed messages
		_ = msg.Reject(false)
		return
	}

	recordCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.recorder.RecordActivity(recordCtx, ActivityFromEvent(ev)); err != nil {
		slog.Error("failed to record activity",
			"worker_id", workerID,
			"event_id", ev.ID,
			"error", err,
		)
		// Requeue once; a redelivered message that fails again is dropped.
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack message",
			"worker_id", workerID,
			"event_id", ev.ID,
			"error", err,
		)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	slog.Info("consumer stopped")
}

// ActivityFromEvent converts a progress event into an activity entry.
func ActivityFromEvent(ev progress.Event) domain.Activity {
	a := domain.Activity{
		EventID:    ev.ID,
		UserID:     ev.UserID,
		Kind:       string(ev.Kind),
		LessonID:   ev.LessonID,
		Amount:     ev.Amount,
		OccurredAt: ev.OccurredAt,
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now()
	}

	var detail []string
	if p := ev.Progress; p != nil {
		if a.LessonID == "" {
			a.LessonID = p.LessonID
		}
		detail = append(detail, fmt.Sprintf("score=%d", p.Score))
		if p.Part > 0 {
			detail = append(detail, fmt.Sprintf("part=%d/%d", p.Part, p.TotalParts))
		}
		if p.IsCompleted {
			detail = append(detail, "completed")
		}
	}
	if s := ev.Streak; s != nil {
		detail = append(detail, fmt.Sprintf("streak=%d", s.Streak))
		if s.FirstToday {
			detail = append(detail, "first_today")
		}
	}
	if s := ev.Stats; s != nil {
		detail = append(detail, fmt.Sprintf("hearts=%d xp=%d", s.Hearts, s.XP))
	}
	a.Detail = strings.Join(detail, " ")
	return a
}
