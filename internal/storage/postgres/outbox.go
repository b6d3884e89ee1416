package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/progress"
	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// OpenDB opens a database/sql handle for the outbox.
func OpenDB(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OutboxStore keeps undelivered backend commands in PostgreSQL.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore creates a new PostgreSQL outbox.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

var _ progress.OutboxStore = (*OutboxStore)(nil)

// Enqueue stores a pending command.
func (s *OutboxStore) Enqueue(ctx context.Context, cmd progress.Command) error {
	var payload pqtype.NullRawMessage
	if cmd.Progress != nil {
		data, err := json.Marshal(cmd.Progress)
		if err != nil {
			return fmt.Errorf("marshal progress payload: %w", err)
		}
		payload = pqtype.NullRawMessage{RawMessage: data, Valid: true}
	}
	status := cmd.Status
	if status == "" {
		status = progress.StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (id, user_id, kind, lesson_id, amount, payload, status,
			attempts, next_attempt_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		cmd.ID, cmd.UserID, string(cmd.Kind), cmd.LessonID, cmd.Amount, payload,
		string(status), cmd.Attempts, cmd.NextAttemptAt, cmd.LastError, cmd.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox command: %w", err)
	}
	return nil
}

// Due returns pending commands ready for another attempt, oldest first.
func (s *OutboxStore) Due(ctx context.Context, now time.Time, limit int) ([]progress.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, lesson_id, amount, payload, status,
			attempts, next_attempt_at, last_error, created_at, delivered_at
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= $1
			AND NOT EXISTS (
				SELECT 1 FROM outbox w
				WHERE w.user_id = outbox.user_id AND w.status = 'pending'
					AND w.next_attempt_at > $1 AND w.seq < outbox.seq)
		ORDER BY created_at, seq
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due commands: %w", err)
	}
	defer rows.Close()

	var cmds []progress.Command
	for rows.Next() {
		var cmd progress.Command
		var kind, status string
		var payload pqtype.NullRawMessage
		var deliveredAt sql.NullTime

		err := rows.Scan(&cmd.ID, &cmd.UserID, &kind, &cmd.LessonID, &cmd.Amount, &payload,
			&status, &cmd.Attempts, &cmd.NextAttemptAt, &cmd.LastError, &cmd.CreatedAt, &deliveredAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox command: %w", err)
		}
		cmd.Kind = progress.CommandKind(kind)
		cmd.Status = progress.CommandStatus(status)
		if deliveredAt.Valid {
			t := deliveredAt.Time
			cmd.DeliveredAt = &t
		}
		if payload.Valid && len(payload.RawMessage) > 0 {
			cmd.Progress = &domain.ProgressUpdate{}
			if err := json.Unmarshal(payload.RawMessage, cmd.Progress); err != nil {
				return nil, fmt.Errorf("unmarshal progress payload: %w", err)
			}
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// MarkDelivered records successful delivery.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx,
		`UPDATE outbox SET status = 'delivered', delivered_at = $1, last_error = '' WHERE id = $2`,
		at, id)
}

// MarkFailed records a failed attempt and when to try again.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error {
	status := progress.StatusPending
	if dead {
		status = progress.StatusDead
	}
	return s.update(ctx,
		`UPDATE outbox SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $5`,
		string(status), attempts, next, lastErr, id)
}

// Pending returns the number of commands still awaiting delivery.
func (s *OutboxStore) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending commands: %w", err)
	}
	return n, nil
}

// Purge deletes delivered commands older than before.
func (s *OutboxStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = 'delivered' AND delivered_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return result.RowsAffected()
}

func (s *OutboxStore) update(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update outbox: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
