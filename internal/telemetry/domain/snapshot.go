package domain

import (
	"fmt"
	"time"
)

// Source identifies a telemetry domain.
type Source string

const (
	SourceWeather      Source = "weather"
	SourceConnectivity Source = "connectivity"
	SourceEnclosure    Source = "enclosure"
	SourceActors       Source = "actors"
)

// Valid returns true when the source is known.
func (s Source) Valid() bool {
	switch s {
	case SourceWeather, SourceConnectivity, SourceEnclosure, SourceActors:
		return true
	default:
		return false
	}
}

// Snapshot is an immutable, timestamped bundle of the latest known values for
// one telemetry source. A snapshot is never mutated; the next successful
// fetch supersedes it.
type Snapshot struct {
	Source     Source         `json:"source"`
	CapturedAt time.Time      `json:"captured_at"`
	Fields     map[string]any `json:"fields"`
	MaxAge     time.Duration  `json:"max_age"`
}

// NewSnapshot constructs a snapshot, copying the field map.
func NewSnapshot(source Source, capturedAt time.Time, fields map[string]any, maxAge time.Duration) Snapshot {
	copied := make(map[string]any, len(fields))
	for name, value := range fields {
		copied[name] = value
	}
	return Snapshot{
		Source:     source,
		CapturedAt: capturedAt.UTC(),
		Fields:     copied,
		MaxAge:     maxAge,
	}
}

// IsStale reports whether the snapshot is older than the source's max age.
func (s Snapshot) IsStale(now time.Time) bool {
	if s.CapturedAt.IsZero() {
		return true
	}
	if s.MaxAge <= 0 {
		return false
	}
	return now.Sub(s.CapturedAt) > s.MaxAge
}

// Float returns a numeric field value.
func (s Snapshot) Float(name string) (float64, bool) {
	value, ok := s.Fields[name]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Bool returns a boolean field value.
func (s Snapshot) Bool(name string) (bool, bool) {
	value, ok := s.Fields[name]
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// String returns a string field value.
func (s Snapshot) String(name string) (string, bool) {
	value, ok := s.Fields[name]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// FetchError wraps an upstream telemetry failure (timeout, unreachable,
// malformed response).
type FetchError struct {
	Source Source
	Err    error
}

// Error implements error.
func (e *FetchError) Error() string {
	return fmt.Sprintf("telemetry: fetch %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err as a fetch failure for source.
func NewFetchError(source Source, err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Source: source, Err: err}
}
