package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RelayConfig controls outbox delivery.
type RelayConfig struct {
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retention is how long delivered commands are kept before Purge
	// removes them.
	Retention     time.Duration
	PurgeInterval time.Duration
}

// DefaultRelayConfig returns the standard delivery policy.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:       5 * time.Second,
		BatchSize:      50,
		MaxAttempts:    10,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		Retention:      24 * time.Hour,
		PurgeInterval:  time.Hour,
	}
}

// Relay delivers outbox commands to the backend in the background.
type Relay struct {
	store     OutboxStore
	backend   Backend
	publisher Publisher // Optional
	cfg       RelayConfig
	notify    chan struct{}
	now       func() time.Time
}

// NewRelay creates a relay. Pass a ResilientBackend to get retries and a
// circuit breaker on every delivery.
func NewRelay(store OutboxStore, backend Backend, cfg RelayConfig) *Relay {
	def := DefaultRelayConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = def.PurgeInterval
	}
	return &Relay{
		store:   store,
		backend: backend,
		cfg:     cfg,
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// SetPublisher sets where delivered progress is announced
func (r *Relay) SetPublisher(p Publisher) {
	r.publisher = p
}

// Notify wakes the relay without waiting for the next tick.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run delivers commands until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.Info("outbox relay started", "interval", r.cfg.Interval)
	var lastPurge time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay stopped")
			return
		case <-ticker.C:
		case <-r.notify:
		}
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("failed to flush outbox", "error", err)
		}
		if r.now().Sub(lastPurge) >= r.cfg.PurgeInterval {
			lastPurge = r.now()
			if _, err := r.Purge(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("failed to purge outbox", "error", err)
			}
		}
	}
}

// Purge removes delivered commands older than the retention window.
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	n, err := r.store.Purge(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	if n > 0 {
		slog.Debug("purged delivered commands", "count", n)
	}
	return n, nil
}

// Flush attempts every due command once and returns how many were
// delivered. Once a command fails, the same user's later commands wait
// for the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	cmds, err := r.store.Due(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due commands: %w", err)
	}

	delivered := 0
	blocked := make(map[string]bool)
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if blocked[cmd.UserID] {
			continue
		}
		ev, err := r.deliver(ctx, cmd)
		if err != nil {
			r.fail(ctx, cmd, err)
			blocked[cmd.UserID] = true
			continue
		}

		at := r.now()
		if err := r.store.MarkDelivered(ctx, cmd.ID, at); err != nil {
			return delivered, fmt.Errorf("mark delivered: %w", err)
		}
		delivered++

		if r.publisher != nil {
			ev.OccurredAt = at
			if err := r.publisher.PublishProgress(ctx, ev); err != nil {
				slog.Warn("failed to publish progress event", "command", cmd.ID, "error", err)
			}
		}
	}
	return delivered, nil
}

func (r *Relay) deliver(ctx context.Context, cmd Command) (Event, error) {
	ev := eventFor(cmd, r.now())
	switch cmd.Kind {
	case CommandAddXP:
		stats, err := r.backend.AddXP(ctx, cmd.UserID, cmd.Amount)
		if err != nil {
			return ev, err
		}
		ev.Stats = &stats
	case CommandLoseHeart:
		stats, err := r.backend.LoseHeart(ctx, cmd.UserID, cmd.LessonID)
		if err != nil {
			return ev, err
		}
		ev.Stats = &stats
	case CommandLessonProgress:
		if cmd.Progress == nil {
			return ev, fmt.Errorf("lesson progress command %s has no payload", cmd.ID)
		}
		if _, err := r.backend.UpdateLessonProgress(ctx, cmd.UserID, *cmd.Progress); err != nil {
			return ev, err
		}
	case CommandUpdateStreak:
		res, err := r.backend.UpdateStreak(ctx, cmd.UserID)
		if err != nil {
			return ev, err
		}
		ev.Streak = &res
	default:
		return ev, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
	return ev, nil
}

func (r *Relay) fail(ctx context.Context, cmd Command, cause error) {
	attempts := cmd.Attempts + 1
	dead := attempts >= r.cfg.MaxAttempts
	next := r.now().Add(r.backoff(attempts))

	if dead {
		slog.Error("outbox command exhausted retries",
			"command", cmd.ID,
			"kind", cmd.Kind,
			"user", cmd.UserID,
			"attempts", attempts,
			"error", cause)
	} else {
		slog.Warn("failed to deliver outbox command",
			"command", cmd.ID,
			"kind", cmd.Kind,
			"attempts", attempts,
			"retry_at", next,
			"error", cause)
	}

	if err := r.store.MarkFailed(ctx, cmd.ID, attempts, next, cause.Error(), dead); err != nil {
		slog.Warn("failed to record outbox failure", "command", cmd.ID, "error", err)
	}
}

// backoff doubles from InitialBackoff per attempt, capped at MaxBackoff.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.InitialBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}
