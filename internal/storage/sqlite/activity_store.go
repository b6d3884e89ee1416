package sqlite

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// ActivityStore records delivered progress events backed by SQLite.
type ActivityStore struct {
	db *DB
}

// NewActivityStore creates a new SQLite-backed activity log.
func NewActivityStore(db *DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// RecordActivity stores an activity entry. Redelivered events are ignored.
func (s *ActivityStore) RecordActivity(ctx context.Context, a domain.Activity) error {
	if a.EventID == "" || a.UserID == "" {
		return fmt.Errorf("%w: activity needs event and user id", domain.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO activity (event_id, user_id, kind, lesson_id, amount, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.EventID, a.UserID, a.Kind, a.LessonID, a.Amount, a.Detail, a.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// RecentActivity returns the user's latest entries, newest first.
func (s *ActivityStore) RecentActivity(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, kind, lesson_id, amount, detail, occurred_at
		FROM activity WHERE user_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.EventID, &a.UserID, &a.Kind, &a.LessonID, &a.Amount, &a.Detail, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByKind returns how many entries of each kind the user has.
func (s *ActivityStore) CountByKind(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) FROM activity WHERE user_id = ? GROUP BY kind", userID)
	if err != nil {
		return nil, fmt.Errorf("count activity: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan activity count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
