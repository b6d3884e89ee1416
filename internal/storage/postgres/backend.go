// Package postgres is the PostgreSQL progression backend, for deployments
// where several daemons share one lesson catalog and user base.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/progress"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Connect opens a connection pool and verifies it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Backend implements progress.Backend using PostgreSQL
type Backend struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewBackend creates a new PostgreSQL backend
func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool, now: time.Now}
}

var _ progress.Backend = (*Backend)(nil)

// SaveLessons upserts catalog entries
func (b *Backend) SaveLessons(ctx context.Context, lessons []domain.Lesson) error {
	batch := &pgx.Batch{}
	for _, l := range lessons {
		if l.ID == "" {
			return fmt.Errorf("%w: lesson without id", domain.ErrInvalidInput)
		}
		updated := l.UpdatedAt
		if updated.IsZero() {
			updated = b.now()
		}
		doc := []byte(l.Document)
		if len(doc) == 0 {
			doc = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO lessons (id, number, category, title, total_parts, document, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				number = EXCLUDED.number, category = EXCLUDED.category,
				title = EXCLUDED.title, total_parts = EXCLUDED.total_parts,
				document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
		`, l.ID, l.Number, l.Category, l.Title, l.TotalParts, doc, updated)
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert lessons: %w", err)
	}
	return tx.Commit(ctx)
}

// GetUserLessons returns the catalog with unlock and completion flags
func (b *Backend) GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, number, category, title, total_parts, document, updated_at
		FROM lessons ORDER BY category, number
	`)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []domain.Lesson
	for rows.Next() {
		var l domain.Lesson
		var doc []byte
		if err := rows.Scan(&l.ID, &l.Number, &l.Category, &l.Title, &l.TotalParts, &doc, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.Document = json.RawMessage(doc)
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records, err := b.GetUserProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.UnlockLessons(lessons, records), nil
}

// GetUserProgress returns every lesson progress record of the user
func (b *Backend) GetUserProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT lesson_id, is_completed, current_part, completed_parts,
			score, best_score, attempts, completed_at, updated_at
		FROM lesson_progress WHERE user_id = $1 ORDER BY lesson_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lesson progress: %w", err)
	}
	defer rows.Close()

	var out []domain.LessonProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetUserStats returns the user's counters; unknown users get full hearts
func (b *Backend) GetUserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	return getStats(ctx, b.pool, userID, false)
}

// LoseHeart removes one heart
func (b *Backend) LoseHeart(ctx context.Context, userID, lessonID string) (domain.UserStats, error) {
	return b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		return s.LoseHeart()
	})
}

// RefillHearts restores the user's hearts to the maximum
func (b *Backend) RefillHearts(ctx context.Context, userID string) (domain.UserStats, error) {
	return b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		return s.RefillHearts()
	})
}

// AddXP adds amount to the user's XP
func (b *Backend) AddXP(ctx context.Context, userID string, amount int) (domain.UserStats, error) {
	return b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		return s.AddXP(amount)
	})
}

// UpdateStreak records activity today
func (b *Backend) UpdateStreak(ctx context.Context, userID string) (domain.StreakResult, error) {
	var res domain.StreakResult
	_, err := b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		s, res = s.TouchStreak(b.now())
		return s
	})
	return res, err
}

// UpdateLessonProgress merges a completed session into lesson progress
func (b *Backend) UpdateLessonProgress(ctx context.Context, userID string, u domain.ProgressUpdate) (domain.LessonProgress, error) {
	if u.LessonID == "" {
		return domain.LessonProgress{}, fmt.Errorf("%w: lesson id required", domain.ErrInvalidInput)
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return domain.LessonProgress{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT lesson_id, is_completed, current_part, completed_parts,
			score, best_score, attempts, completed_at, updated_at
		FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2
		FOR UPDATE
	`, userID, u.LessonID)
	current, err := scanProgress(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.LessonProgress{}, err
	}

	next := current.Apply(u, b.now())
	parts, err := json.Marshal(next.CompletedParts)
	if err != nil {
		return domain.LessonProgress{}, fmt.Errorf("marshal completed parts: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lesson_progress (user_id, lesson_id, is_completed, current_part,
			completed_parts, score, best_score, attempts, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, lesson_id) DO UPDATE SET
			is_completed = EXCLUDED.is_completed, current_part = EXCLUDED.current_part,
			completed_parts = EXCLUDED.completed_parts, score = EXCLUDED.score,
			best_score = EXCLUDED.best_score, attempts = EXCLUDED.attempts,
			completed_at = EXCLUDED.completed_at, updated_at = EXCLUDED.updated_at
	`, userID, next.LessonID, next.IsCompleted, next.CurrentPart, parts,
		next.Score, next.BestScore, next.Attempts, next.CompletedAt, next.UpdatedAt)
	if err != nil {
		return domain.LessonProgress{}, fmt.Errorf("upsert lesson progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.LessonProgress{}, fmt.Errorf("commit lesson progress: %w", err)
	}
	return next, nil
}

func (b *Backend) updateStats(ctx context.Context, userID string, fn func(domain.UserStats) domain.UserStats) (domain.UserStats, error) {
	if userID == "" {
		return domain.UserStats{}, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stats, err := getStats(ctx, tx, userID, true)
	if err != nil {
		return domain.UserStats{}, err
	}
	stats = fn(stats)

	_, err = tx.Exec(ctx, `
		INSERT INTO user_stats (user_id, hearts, xp, streak, last_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			hearts = EXCLUDED.hearts, xp = EXCLUDED.xp, streak = EXCLUDED.streak,
			last_active = EXCLUDED.last_active, updated_at = EXCLUDED.updated_at
	`, userID, stats.Hearts, stats.XP, stats.Streak, stats.LastActive, b.now())
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("upsert user stats: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.UserStats{}, fmt.Errorf("commit user stats: %w", err)
	}
	return stats, nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getStats(ctx context.Context, q querier, userID string, lock bool) (domain.UserStats, error) {
	query := `SELECT hearts, xp, streak, last_active FROM user_stats WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	stats := domain.UserStats{UserID: userID}
	err := q.QueryRow(ctx, query, userID).Scan(&stats.Hearts, &stats.XP, &stats.Streak, &stats.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewUserStats(userID), nil
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("get user stats: %w", err)
	}
	return stats, nil
}

func scanProgress(row pgx.Row) (domain.LessonProgress, error) {
	var p domain.LessonProgress
	var parts []byte

	err := row.Scan(&p.LessonID, &p.IsCompleted, &p.CurrentPart, &parts,
		&p.Score, &p.BestScore, &p.Attempts, &p.CompletedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LessonProgress{}, err
	}
	if err != nil {
		return domain.LessonProgress{}, fmt.Errorf("scan lesson progress: %w", err)
	}
	if len(parts) > 0 {
		if err := json.Unmarshal(parts, &p.CompletedParts); err != nil {
			return domain.LessonProgress{}, fmt.Errorf("unmarshal completed parts: %w", err)
		}
	}
	return p, nil
}
