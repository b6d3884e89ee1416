package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
)

// ResilientBackend wraps a Backend with resilience patterns from fortify
type ResilientBackend struct {
	backend        Backend
	circuitBreaker circuitbreaker.CircuitBreaker[any]
	retrier        retry.Retry[any]
	bulkhead       bulkhead.Bulkhead[any]
	logger         *slog.Logger
}

// ResilientConfig holds configuration for the resilient backend wrapper
type ResilientConfig struct {
	// MaxAttempts per call, including the first (default: 3)
	MaxAttempts int

	// InitialDelay before the first retry (default: 200ms)
	InitialDelay time.Duration

	// MaxDelay caps the backoff (default: 5s)
	MaxDelay time.Duration

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit (default: 5)
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open (default: 30s)
	OpenTimeout time.Duration

	// MaxConcurrent backend calls (default: 8)
	MaxConcurrent int

	Logger *slog.Logger
}

// DefaultResilientConfig returns defaults suited to a local or LAN backend
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:      3,
		InitialDelay:     200 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		MaxConcurrent:    8,
	}
}

// NewResilientBackend wraps a backend with retry, circuit breaker and
// bulkhead.
func NewResilientBackend(backend Backend, cfg ResilientConfig) *ResilientBackend {
	def := DefaultResilientConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rb := &ResilientBackend{backend: backend, logger: logger}

	threshold := cfg.FailureThreshold
	rb.circuitBreaker = circuitbreaker.New[any](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= threshold
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			rb.logger.Warn("backend circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})

	rb.retrier = retry.New[any](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   isRetryable,
	})

	rb.bulkhead = bulkhead.New[any](bulkhead.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueue:      cfg.MaxConcurrent * 4,
		QueueTimeout:  10 * time.Second,
	})

	return rb
}

var _ Backend = (*ResilientBackend)(nil)

// isRetryable rejects errors that another attempt cannot fix.
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrStatsNotFound):
		return false
	}
	return true
}

// call runs op through the bulkhead, retrier and circuit breaker.
func call[T any](ctx context.Context, rb *ResilientBackend, op func(ctx context.Context) (T, error)) (T, error) {
	operation := func(ctx context.Context) (any, error) {
		return rb.bulkhead.Execute(ctx, func(ctx context.Context) (any, error) {
			return op(ctx)
		})
	}

	v, err := rb.circuitBreaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return rb.retrier.Do(ctx, operation)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected backend result %T", v)
	}
	return out, nil
}

func (rb *ResilientBackend) GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error) {
	return call(ctx, rb, func(ctx context.Context) ([]domain.Lesson, error) {
		return rb.backend.GetUserLessons(ctx, userID)
	})
}

func (rb *ResilientBackend) GetUserProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error) {
	return call(ctx, rb, func(ctx context.Context) ([]domain.LessonProgress, error) {
		return rb.backend.GetUserProgress(ctx, userID)
	})
}

func (rb *ResilientBackend) GetUserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	return call(ctx, rb, func(ctx context.Context) (domain.UserStats, error) {
		return rb.backend.GetUserStats(ctx, userID)
	})
}

func (rb *ResilientBackend) LoseHeart(ctx context.Context, userID, lessonID string) (domain.UserStats, error) {
	return call(ctx, rb, func(ctx context.Context) (domain.UserStats, error) {
		return rb.backend.LoseHeart(ctx, userID, lessonID)
	})
}

func (rb *ResilientBackend) RefillHearts(ctx context.Context, userID string) (domain.UserStats, error) {
	return call(ctx, rb, func(ctx context.Context) (domain.UserStats, error) {
		return rb.backend.RefillHearts(ctx, userID)
	})
}

func (rb *ResilientBackend) AddXP(ctx context.Context, userID string, amount int) (domain.UserStats, error) {
	return call(ctx, rb, func(ctx context.Context) (domain.UserStats, error) {
		return rb.backend.AddXP(ctx, userID, amount)
	})
}

func (rb *ResilientBackend) UpdateStreak(ctx context.Context, userID string) (domain.StreakResult, error) {
	return call(ctx, rb, func(ctx context.Context) (domain.StreakResult, error) {
		return rb.backend.UpdateStreak(ctx, userID)
	})
}

func (rb *ResilientBackend) UpdateLessonProgress(ctx context.Context, userID string, u domain.ProgressUpdate) (domain.LessonProgress, error) {
	return call(ctx, rb, func(ctx context.Context) (domain.LessonProgress, error) {
		return rb.backend.UpdateLessonProgress(ctx, userID, u)
	})
}

func (rb *ResilientBackend) SaveLessons(ctx context.Context, lessons []domain.Lesson) error {
	_, err := call(ctx, rb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rb.backend.SaveLessons(ctx, lessons)
	})
	return err
}
