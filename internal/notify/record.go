package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"observatory-ops/internal/alerts"
)

// NotificationRecord is written once a delivery actually reached a channel.
// The dedup window is measured against these records, never against
// attempted or queued sends.
type NotificationRecord struct {
	AlertName string
	Severity  alerts.Severity
	Channel   string
	Group     string
	DedupKey  string
	SentAt    time.Time
}

// DedupKeyFor builds the stored dedup key.
func DedupKeyFor(name string, severity alerts.Severity, group string) string {
	return fmt.Sprintf("%s|%s|%s", name, severity, group)
}

// RecordStore persists delivery records and answers dedup lookups.
type RecordStore interface {
	// Latest returns the most recent record for an alert name and group,
	// or nil when none exists.
	Latest(ctx context.Context, name, group string) (*NotificationRecord, error)
	Insert(ctx context.Context, record NotificationRecord) error
}

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records []NotificationRecord
}

// NewMemoryRecordStore constructs an empty store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

// Latest returns the newest record matching name and group.
func (s *MemoryRecordStore) Latest(ctx context.Context, name, group string) (*NotificationRecord, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *NotificationRecord
	for i := range s.records {
		record := s.records[i]
		if record.AlertName != name || record.Group != group {
			continue
		}
		if latest == nil || record.SentAt.After(latest.SentAt) {
			copied := record
			latest = &copied
		}
	}
	return latest, nil
}

// Insert appends a record.
func (s *MemoryRecordStore) Insert(ctx context.Context, record NotificationRecord) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return nil
}

// All returns a copy of every record, insertion order.
func (s *MemoryRecordStore) All() []NotificationRecord {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NotificationRecord, len(s.records))
	copy(out, s.records)
	return out
}
