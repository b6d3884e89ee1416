package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/cadence/internal/celebrate"
	"github.com/felixgeelhaar/cadence/internal/config"
	"github.com/felixgeelhaar/cadence/internal/lesson"
	"github.com/felixgeelhaar/cadence/internal/progress"
	"github.com/felixgeelhaar/cadence/internal/queue"
	"github.com/felixgeelhaar/cadence/internal/session"
	"github.com/felixgeelhaar/cadence/internal/stats"
	"github.com/felixgeelhaar/cadence/internal/storage/local"
	"github.com/felixgeelhaar/cadence/internal/storage/postgres"
	"github.com/felixgeelhaar/cadence/internal/storage/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App holds all runtime dependencies
type App struct {
	Config     *config.Config
	DB         *sqlite.DB
	Backend    *progress.ResilientBackend
	Outbox     progress.OutboxStore
	Relay      *progress.Relay
	Dispatcher *progress.Dispatcher
	Sessions   *session.Service
	Stats      *stats.Service
	Activity   *sqlite.ActivityStore
	Loader     *lesson.Loader

	// Set when an AMQP URL is configured
	Queue    *queue.Connection
	Consumer *queue.Consumer

	pool *pgxpool.Pool // postgres backend
	pgDB *sql.DB       // postgres outbox

	wg sync.WaitGroup
}

// New wires the runtime. dir is the cadence home directory holding the
// embedded database and local client state.
func New(ctx context.Context, cfg *config.Config, dir string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}

	a := &App{Config: cfg}

	db, err := sqlite.Open(filepath.Join(dir, "cadence.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	if err := db.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store, err := local.NewStore(filepath.Join(dir, "state"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open local state: %w", err)
	}

	var backend progress.Backend
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pool = pool
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		pgDB, err := postgres.OpenDB(cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pgDB = pgDB
		backend = postgres.NewBackend(pool)
		a.Outbox = postgres.NewOutboxStore(pgDB)
	default:
		backend = sqlite.NewBackend(db)
		a.Outbox = sqlite.NewOutboxStore(db)
	}

	a.Backend = progress.NewResilientBackend(backend, progress.DefaultResilientConfig())

	relayCfg := progress.DefaultRelayConfig()
	relayCfg.Interval = cfg.FlushInterval
	relayCfg.BatchSize = cfg.OutboxBatchSize
	relayCfg.MaxAttempts = cfg.OutboxMaxAttempts
	a.Relay = progress.NewRelay(a.Outbox, a.Backend, relayCfg)

	a.Activity = sqlite.NewActivityStore(db)
	if cfg.AMQPURL != "" {
		if err := a.connectQueue(cfg); err != nil {
			slog.Warn("failed to connect to message queue, progress events disabled", "error", err)
		}
	}

	cursor := progress.NewPartCursor(store, a.Backend)
	a.Dispatcher = progress.NewDispatcher(a.Backend, a.Outbox, celebrate.NewService(cfg.BadgeDuration))
	a.Dispatcher.SetRelay(a.Relay)
	a.Dispatcher.SetPartCursor(cursor)

	sessCfg := session.DefaultConfig()
	if cfg.AdvanceDelay > 0 {
		sessCfg.Timings.Advance = cfg.AdvanceDelay
	}
	if cfg.MatchAdvanceDelay > 0 {
		sessCfg.Timings.MatchAdvance = cfg.MatchAdvanceDelay
	}
	if cfg.FlashDelay > 0 {
		sessCfg.Timings.Flash = cfg.FlashDelay
	}
	if cfg.BadgeDuration > 0 {
		sessCfg.BadgeDuration = cfg.BadgeDuration
	}
	a.Sessions = session.NewService(sqlite.NewSessionStore(db), a.Backend, a.Dispatcher, sessCfg)
	a.Sessions.SetPartResolver(cursor)
	a.Sessions.SetClientCache(func(userID string) session.ClientCache {
		return lesson.NewClientState(store, userID)
	})

	a.Stats = stats.NewService(a.Backend)
	a.Stats.SetActivitySource(a.Activity)
	a.Stats.SetPendingCounter(a.Outbox)
	a.Stats.SetCurrentLessonSource(func(userID string) (stats.CurrentLesson, bool) {
		active, category, ok := lesson.NewClientState(store, userID).ActiveLesson()
		return stats.CurrentLesson{LessonID: active.LessonID, Number: active.Number, Category: category}, ok
	})

	a.Loader = lesson.NewLoader(cfg.ContentDir)
	if cfg.ContentDir != "" {
		if _, err := lesson.Import(ctx, a.Loader, a.Backend); err != nil {
			slog.Warn("failed to import lesson catalog", "dir", cfg.ContentDir, "error", err)
		}
	}

	return a, nil
}

func (a *App) connectQueue(cfg *config.Config) error {
	conn, err := queue.NewConnection(cfg.AMQPURL)
	if err != nil {
		return err
	}
	a.Queue = conn
	a.Relay.SetPublisher(queue.NewProducer(conn))
	consumerCfg := queue.DefaultConsumerConfig()
	consumerCfg.Workers = cfg.ConsumerWorkers
	a.Consumer = queue.NewConsumer(conn, a.Activity, consumerCfg)
	return nil
}

// Run starts the background workers: the outbox relay and, when a queue
// is configured, the activity consumer. It returns once they are started.
func (a *App) Run(ctx context.Context) error {
	if a.Consumer != nil {
		if err := a.Consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Relay.Run(ctx)
	}()
	return nil
}

// Close stops the workers and releases all resources. The context passed
// to Run must be cancelled first for the relay to exit.
func (a *App) Close() error {
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.Consumer != nil {
		a.Consumer.Stop()
	}
	a.wg.Wait()

	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			slog.Warn("failed to close queue connection", "error", err)
		}
	}
	if a.pgDB != nil {
		a.pgDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
