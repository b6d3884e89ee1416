package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// Backend is the embedded progression backend: lesson catalog, user
// stats and lesson progress in one SQLite file.
type Backend struct {
	db  *DB
	now func() time.Time
}

// NewBackend creates a new SQLite-backed progression backend.
func NewBackend(db *DB) *Backend {
	return &Backend{db: db, now: time.Now}
}

// SaveLessons upserts catalog entries.
func (b *Backend) SaveLessons(ctx context.Context, lessons []domain.Lesson) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, l := range lessons {
		if l.ID == "" {
			return fmt.Errorf("%w: lesson without id", domain.ErrInvalidInput)
		}
		updated := l.UpdatedAt
		if updated.IsZero() {
			updated = b.now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lessons (id, number, category, title, total_parts, document, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				number=excluded.number, category=excluded.category,
				title=excluded.title, total_parts=excluded.total_parts,
				document=excluded.document, updated_at=excluded.updated_at`,
			l.ID, l.Number, l.Category, l.Title, l.TotalParts,
			string(l.Document), updated.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert lesson %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// GetUserLessons returns the catalog with unlock and completion flags
// for the user.
func (b *Backend) GetUserLessons(ctx context.Context, userID string) ([]domain.Lesson, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, number, category, title, total_parts, document, updated_at
		FROM lessons ORDER BY category, number`)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []domain.Lesson
	for rows.Next() {
		var l domain.Lesson
		var doc string
		if err := rows.Scan(&l.ID, &l.Number, &l.Category, &l.Title, &l.TotalParts, &doc, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.Document = json.RawMessage(doc)
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	progress, err := b.GetUserProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.UnlockLessons(lessons, progress), nil
}

// GetUserProgress returns every lesson progress record of the user.
func (b *Backend) GetUserProgress(ctx context.Context, userID string) ([]domain.LessonProgress, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT lesson_id, is_completed, current_part, completed_parts,
			score, best_score, attempts, completed_at, updated_at
		FROM lesson_progress WHERE user_id = ? ORDER BY lesson_id`, userID)
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

// GetUserStats returns the user's counters. A user who has never played
// gets full hearts.
func (b *Backend) GetUserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	return getStats(ctx, b.db, userID)
}

// LoseHeart removes one heart.
func (b *Backend) LoseHeart(ctx context.Context, userID, lessonID string) (domain.UserStats, error) {
	return b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		return s.LoseHeart()
	})
}

// AddXP adds (or with a negative amount, removes) XP.
func (b *Backend) AddXP(ctx context.Context, userID string, amount int) (domain.UserStats, error) {
	return b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		return s.AddXP(amount)
	})
}

// UpdateStreak records activity today.
func (b *Backend) UpdateStreak(ctx context.Context, userID string) (domain.StreakResult, error) {
	var res domain.StreakResult
	_, err := b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		s, res = s.TouchStreak(b.now())
		return s
	})
	return res, err
}

// UpdateLessonProgress merges a completed session into the user's
// progress on the lesson.
func (b *Backend) UpdateLessonProgress(ctx context.Context, userID string, u domain.ProgressUpdate) (domain.LessonProgress, error) {
	if u.LessonID == "" {
		return domain.LessonProgress{}, fmt.Errorf("%w: lesson id required", domain.ErrInvalidInput)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LessonProgress{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT lesson_id, is_completed, current_part, completed_parts,
			score, best_score, attempts, completed_at, updated_at
		FROM lesson_progress WHERE user_id = ? AND lesson_id = ?`, userID, u.LessonID)
	current, err := scanProgress(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.LessonProgress{}, err
	}

	next := current.Apply(u, b.now())
	parts, err := json.Marshal(next.CompletedParts)
	if err != nil {
		return domain.LessonProgress{}, fmt.Errorf("marshal completed parts: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lesson_progress (user_id, lesson_id, is_completed, current_part,
			completed_parts, score, best_score, attempts, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, lesson_id) DO UPDATE SET
			is_completed=excluded.is_completed, current_part=excluded.current_part,
			completed_parts=excluded.completed_parts, score=excluded.score,
			best_score=excluded.best_score, attempts=excluded.attempts,
			completed_at=excluded.completed_at, updated_at=excluded.updated_at`,
		userID, next.LessonID, next.IsCompleted, next.CurrentPart,
		string(parts), next.Score, next.BestScore, next.Attempts,
		nullTime(next.CompletedAt), next.UpdatedAt.UTC(),
	)
	if err != nil {
		return domain.LessonProgress{}, fmt.Errorf("upsert lesson progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.LessonProgress{}, fmt.Errorf("commit lesson progress: %w", err)
	}
	return next, nil
}

// updateStats applies fn to the user's counters inside a transaction.
func (b *Backend) updateStats(ctx context.Context, userID string, fn func(domain.UserStats) domain.UserStats) (domain.UserStats, error) {
	if userID == "" {
		return domain.UserStats{}, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stats, err := getStats(ctx, tx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}
	stats = fn(stats)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_stats (user_id, hearts, xp, streak, last_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			hearts=excluded.hearts, xp=excluded.xp, streak=excluded.streak,
			last_active=excluded.last_active, updated_at=excluded.updated_at`,
		userID, stats.Hearts, stats.XP, stats.Streak,
		nullTime(stats.LastActive), b.now().UTC(),
	)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("upsert user stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.UserStats{}, fmt.Errorf("commit user stats: %w", err)
	}
	return stats, nil
}

// RefillHearts resets a user's hearts to the maximum.
func (b *Backend) RefillHearts(ctx context.Context, userID string) (domain.UserStats, error) {
	return b.updateStats(ctx, userID, func(s domain.UserStats) domain.UserStats {
		return s.RefillHearts()
	})
}

// querier is satisfied by *DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getStats(ctx context.Context, q querier, userID string) (domain.UserStats, error) {
	stats := domain.UserStats{UserID: userID}
	var lastActive sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT hearts, xp, streak, last_active
		FROM user_stats WHERE user_id = ?`, userID).
		Scan(&stats.Hearts, &stats.XP, &stats.Streak, &lastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewUserStats(userID), nil
		}
		return domain.UserStats{}, fmt.Errorf("get user stats: %w", err)
	}
	stats.LastActive = timePtr(lastActive)
	return stats, nil
}

func scanProgress(row scanner) (domain.LessonProgress, error) {
	var p domain.LessonProgress
	var parts string
	var completedAt sql.NullTime

	err := row.Scan(&p.LessonID, &p.IsCompleted, &p.CurrentPart, &parts,
		&p.Score, &p.BestScore, &p.Attempts, &completedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LessonProgress{}, err
		}
		return domain.LessonProgress{}, fmt.Errorf("scan lesson progress: %w", err)
	}
	if parts != "" {
		if err := json.Unmarshal([]byte(parts), &p.CompletedParts); err != nil {
			return domain.LessonProgress{}, fmt.Errorf("unmarshal completed parts: %w", err)
		}
	}
	p.CompletedAt = timePtr(completedAt)
	return p, nil
}
