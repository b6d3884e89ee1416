package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/progress"
	"github.com/sqlc-dev/pqtype"
)

// OutboxStore keeps undelivered backend commands in SQLite.
type OutboxStore struct {
	db *DB
}

// NewOutboxStore creates a new SQLite-backed outbox.
func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Enqueue stores a pending command.
func (s *OutboxStore) Enqueue(ctx context.Context, cmd progress.Command) error {
	payload, err := encodePayload(cmd.Progress)
	if err != nil {
		return err
	}
	status := cmd.Status
	if status == "" {
		status = progress.StatusPending
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox (id, user_id, kind, lesson_id, amount, payload, status,
			attempts, next_attempt_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.UserID, string(cmd.Kind), cmd.LessonID, cmd.Amount, payload,
		string(status), cmd.Attempts, cmd.NextAttemptAt.UTC(), cmd.LastError,
		cmd.CreatedAt.UTC(),
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
		WHERE status = 'pending' AND next_attempt_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM outbox w
				WHERE w.user_id = outbox.user_id AND w.status = 'pending'
					AND w.next_attempt_at > ? AND w.rowid < outbox.rowid)
		ORDER BY created_at, rowid
		LIMIT ?`, now.UTC(), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due commands: %w", err)
	}
	defer rows.Close()

	var cmds []progress.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// MarkDelivered records successful delivery.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE outbox SET status = 'delivered', delivered_at = ?, last_error = '' WHERE id = ?",
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed records a failed attempt and when to try again.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error {
	status := progress.StatusPending
	if dead {
		status = progress.StatusDead
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		string(status), attempts, next.UTC(), lastErr, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Pending returns the number of commands still awaiting delivery.
func (s *OutboxStore) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox WHERE status = 'pending'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending commands: %w", err)
	}
	return n, nil
}

// Purge deletes delivered commands older than before.
func (s *OutboxStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM outbox WHERE status = 'delivered' AND delivered_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return result.RowsAffected()
}

func encodePayload(u *domain.ProgressUpdate) (pqtype.NullRawMessage, error) {
	if u == nil {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(u)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal progress payload: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

func decodePayload(p pqtype.NullRawMessage) (*domain.ProgressUpdate, error) {
	if !p.Valid || len(p.RawMessage) == 0 {
		return nil, nil
	}
	var u domain.ProgressUpdate
	if err := json.Unmarshal(p.RawMessage, &u); err != nil {
		return nil, fmt.Errorf("unmarshal progress payload: %w", err)
	}
	return &u, nil
}

func scanCommand(row scanner) (progress.Command, error) {
	var cmd progress.Command
	var kind, status string
	var payload pqtype.NullRawMessage
	var deliveredAt sql.NullTime

	err := row.Scan(&cmd.ID, &cmd.UserID, &kind, &cmd.LessonID, &cmd.Amount, &payload,
		&status, &cmd.Attempts, &cmd.NextAttemptAt, &cmd.LastError, &cmd.CreatedAt, &deliveredAt)
	if err != nil {
		return progress.Command{}, fmt.Errorf("scan outbox command: %w", err)
	}
	cmd.Kind = progress.CommandKind(kind)
	cmd.Status = progress.CommandStatus(status)
	cmd.DeliveredAt = timePtr(deliveredAt)
	cmd.Progress, err = decodePayload(payload)
	if err != nil {
		return progress.Command{}, err
	}
	return cmd, nil
}
