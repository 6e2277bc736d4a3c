package ephemeris

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ephemeris.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return path
}

func TestTableSourceReadsBounds(t *testing.T) {
	path := writeTable(t, `
nights:
  - sjd: 60921
    twilight_end: "2026-08-28T23:55:00Z"
    twilight_start: "2026-08-29T10:05:00Z"
`)
	source, err := NewTableSource(path)
	if err != nil {
		t.Fatalf("new table source: %v", err)
	}

	window, err := source.NightBounds(context.Background(), 60921)
	if err != nil {
		t.Fatalf("night bounds: %v", err)
	}
	if window.Start != time.Date(2026, 8, 28, 23, 55, 0, 0, time.UTC) {
		t.Fatalf("unexpected start: %s", window.Start)
	}
	if window.NightLength() != 10*3600+600 {
		t.Fatalf("unexpected night length: %v", window.NightLength())
	}
}

func TestTableSourceFallsBackForMissingSJD(t *testing.T) {
	path := writeTable(t, "nights: []\n")
	source, err := NewTableSource(path)
	if err != nil {
		t.Fatalf("new table source: %v", err)
	}

	window, err := source.NightBounds(context.Background(), 60921)
	if err != nil {
		t.Fatalf("expected computed fallback, got %v", err)
	}
	if window.SJD != 60921 {
		t.Fatalf("unexpected sjd: %d", window.SJD)
	}
	if !window.End.After(window.Start) {
		t.Fatalf("computed window must be ordered: %s / %s", window.Start, window.End)
	}
}

func TestTableSourceRejectsInvertedBounds(t *testing.T) {
	path := writeTable(t, `
nights:
  - sjd: 60921
    twilight_end: "2026-08-29T10:05:00Z"
    twilight_start: "2026-08-28T23:55:00Z"
`)
	source, err := NewTableSource(path)
	if err != nil {
		t.Fatalf("new table source: %v", err)
	}
	if _, err := source.NightBounds(context.Background(), 60921); err == nil {
		t.Fatalf("expected error for inverted bounds")
	}
}

func TestComputedRejectsInvalidSJD(t *testing.T) {
	if _, err := (Computed{}).NightBounds(context.Background(), 0); !errors.Is(err, ErrUnknownNight) {
		t.Fatalf("expected ErrUnknownNight, got %v", err)
	}
}

func TestNightWindowPhases(t *testing.T) {
	window := NightWindow{
		SJD:   60921,
		Start: time.Date(2026, 8, 28, 23, 55, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 29, 10, 5, 0, 0, time.UTC),
	}

	beforeStart := window.Start.Add(-time.Hour)
	midNight := window.Start.Add(4 * time.Hour)
	afterEnd := window.End.Add(time.Hour)

	if window.HasStarted(beforeStart) {
		t.Fatalf("night must not have started before twilight end")
	}
	if !window.IsOngoing(midNight) {
		t.Fatalf("night should be ongoing mid-window")
	}
	if window.IsOngoing(afterEnd) {
		t.Fatalf("night should not be ongoing after twilight start")
	}
	if got := window.EffectiveEnd(midNight); got != midNight {
		t.Fatalf("effective end of ongoing night should be now, got %s", got)
	}
	if got := window.EffectiveEnd(afterEnd); got != window.End {
		t.Fatalf("effective end of finished night should be nominal end, got %s", got)
	}
}
