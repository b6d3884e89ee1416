//go:build integration

package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/progress"
	"github.com/felixgeelhaar/cadence/internal/queue"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get AMQP URL: %v", err)
	}

	cleanup := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return amqpURL, cleanup
}

type memRecorder struct {
	mu      sync.Mutex
	entries map[string]domain.Activity
}

func (r *memRecorder) RecordActivity(ctx context.Context, a domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[a.EventID] = a
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}

	if err := conn.Close(); err != nil {
		t.Errorf("failed to close connection: %v", err)
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	_, err := queue.NewConnection("amqp://invalid:5672")
	if err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_PublishAndConsume(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	rec := &memRecorder{entries: make(map[string]domain.Activity)}
	consumer := queue.NewConsumer(conn, rec, queue.ConsumerConfig{Workers: 2})
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("failed to start consumer: %v", err)
	}
	defer consumer.Stop()

	producer := queue.NewProducer(conn)
	events := []progress.Event{
		{ID: "e1", UserID: "u1", Kind: progress.CommandAddXP, Amount: 5},
		{ID: "e2", UserID: "u1", Kind: progress.CommandLoseHeart, LessonID: "b1"},
		{ID: "e3", UserID: "u1", Kind: progress.CommandUpdateStreak, Streak: &domain.StreakResult{Streak: 2, FirstToday: true}},
	}
	for _, ev := range events {
		if err := producer.PublishProgress(context.Background(), ev); err != nil {
			t.Fatalf("PublishProgress() error = %v", err)
		}
	}

	deadline := time.After(10 * time.Second)
	for rec.count() < len(events) {
		select {
		case <-deadline:
			t.Fatalf("consumed %d events; want %d", rec.count(), len(events))
		case <-time.After(50 * time.Millisecond):
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if got := rec.entries["e3"].Detail; got != "streak=2 first_today" {
		t.Errorf("streak activity detail = %q", got)
	}
}
