package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"observatory-ops/internal/broker"
)

const defaultDeadLetterTable = "notification_dead_letters"

// DeadLetterStore persists permanently failed tasks for inspection.
type DeadLetterStore struct {
	db    *sql.DB
	table string
}

// Option configures the store.
type Option func(*DeadLetterStore)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(store *DeadLetterStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewDeadLetterStore constructs the store.
func NewDeadLetterStore(db *sql.DB, opts ...Option) *DeadLetterStore {
	store := &DeadLetterStore{db: db, table: defaultDeadLetterTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Record inserts or updates a dead letter by task id.
func (s *DeadLetterStore) Record(ctx context.Context, letter broker.DeadLetter) error {
	if s == nil || s.db == nil {
		return errors.New("dead letter store: nil db")
	}
	if letter.Task.ID == "" {
		return errors.New("dead letter store: empty task id")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	task_id,
	queue,
	channel,
	payload,
	reason,
	first_seen_at,
	last_seen_at,
	attempts
) VALUES (
	$1, $2, $3, $4, $5, $6, $6, 1
)
ON CONFLICT (task_id)
DO UPDATE SET
	payload = EXCLUDED.payload,
	reason = EXCLUDED.reason,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %s.attempts + 1`, s.table, s.table)

	failedAt := letter.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		letter.Task.ID,
		letter.Task.Queue,
		letter.Task.Channel,
		letter.Task.Payload,
		letter.Reason,
		failedAt.UTC(),
	)
	return err
}

// List returns the most recent dead letters up to limit.
func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]broker.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dead letter store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT task_id, queue, channel, payload, reason, last_seen_at
FROM %s
ORDER BY last_seen_at DESC
LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []broker.DeadLetter
	for rows.Next() {
		var letter broker.DeadLetter
		if err := rows.Scan(
			&letter.Task.ID,
			&letter.Task.Queue,
			&letter.Task.Channel,
			&letter.Task.Payload,
			&letter.Reason,
			&letter.FailedAt,
		); err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}
