package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"observatory-ops/internal/alerts"
	"observatory-ops/internal/notify"
)

const defaultRecordsTable = "notification_records"

// RecordStore is a Postgres implementation of notify.RecordStore.
type RecordStore struct {
	db    *sql.DB
	table string
}

// Option configures the store.
type Option func(*RecordStore)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(store *RecordStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewRecordStore constructs the store.
func NewRecordStore(db *sql.DB, opts ...Option) *RecordStore {
	store := &RecordStore{db: db, table: defaultRecordsTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Latest returns the newest delivery record for an alert name and group.
func (s *RecordStore) Latest(ctx context.Context, name, group string) (*notify.NotificationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("record store: nil db")
	}
	query := fmt.Sprintf(`
SELECT alert_name, severity, channel, alert_group, dedup_key, sent_at
FROM %s
WHERE alert_name = $1 AND alert_group = $2
ORDER BY sent_at DESC
LIMIT 1`, s.table)

	var record notify.NotificationRecord
	var severity string
	err := s.db.QueryRowContext(ctx, query, name, group).Scan(
		&record.AlertName,
		&severity,
		&record.Channel,
		&record.Group,
		&record.DedupKey,
		&record.SentAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record.Severity = alerts.Severity(severity)
	return &record, nil
}

// Insert writes a delivery record.
func (s *RecordStore) Insert(ctx context.Context, record notify.NotificationRecord) error {
	if s == nil || s.db == nil {
		return errors.New("record store: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (alert_name, severity, channel, alert_group, dedup_key, sent_at)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		record.AlertName,
		string(record.Severity),
		record.Channel,
		record.Group,
		record.DedupKey,
		record.SentAt.UTC(),
	)
	return err
}
