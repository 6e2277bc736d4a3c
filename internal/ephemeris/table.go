package ephemeris

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// tableEntry is one row of the ephemeris table file.
type tableEntry struct {
	SJD           int    `yaml:"sjd"`
	TwilightEnd   string `yaml:"twilight_end"`
	TwilightStart string `yaml:"twilight_start"`
}

type tableFile struct {
	Nights []tableEntry `yaml:"nights"`
}

// TableSource reads night bounds from a yaml ephemeris table, falling back to
// an approximate computed window for nights the table does not cover.
type TableSource struct {
	path     string
	fallback Source

	once    sync.Once
	loadErr error
	mu      sync.RWMutex
	windows map[int]NightWindow
}

// TableOption configures the table source.
type TableOption func(*TableSource)

// WithFallback sets the source used for SJDs missing from the table.
func WithFallback(fallback Source) TableOption {
	return func(s *TableSource) {
		if fallback != nil {
			s.fallback = fallback
		}
	}
}

// NewTableSource constructs a table source. The file is read lazily on first
// use and kept in memory; the table changes at most once per deployment.
func NewTableSource(path string, opts ...TableOption) (*TableSource, error) {
	if path == "" {
		return nil, fmt.Errorf("ephemeris: empty table path")
	}
	s := &TableSource{
		path:     path,
		fallback: Computed{},
		windows:  make(map[int]NightWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NightBounds implements Source.
func (s *TableSource) NightBounds(ctx context.Context, sjd int) (NightWindow, error) {
	if s == nil {
		return NightWindow{}, ErrUnknownNight
	}
	s.once.Do(s.load)
	if s.loadErr != nil {
		return NightWindow{}, s.loadErr
	}

	s.mu.RLock()
	window, ok := s.windows[sjd]
	s.mu.RUnlock()
	if ok {
		return window, nil
	}
	if s.fallback != nil {
		return s.fallback.NightBounds(ctx, sjd)
	}
	return NightWindow{}, ErrUnknownNight
}

func (s *TableSource) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.loadErr = fmt.Errorf("ephemeris: read table: %w", err)
		return
	}
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		s.loadErr = fmt.Errorf("ephemeris: parse table: %w", err)
		return
	}

	windows := make(map[int]NightWindow, len(file.Nights))
	for _, entry := range file.Nights {
		start, err := time.Parse(time.RFC3339, entry.TwilightEnd)
		if err != nil {
			s.loadErr = fmt.Errorf("ephemeris: sjd %d twilight_end: %w", entry.SJD, err)
			return
		}
		end, err := time.Parse(time.RFC3339, entry.TwilightStart)
		if err != nil {
			s.loadErr = fmt.Errorf("ephemeris: sjd %d twilight_start: %w", entry.SJD, err)
			return
		}
		window := NightWindow{SJD: entry.SJD, Start: start.UTC(), End: end.UTC()}
		if err := window.Validate(); err != nil {
			s.loadErr = fmt.Errorf("ephemeris: sjd %d: %w", entry.SJD, err)
			return
		}
		windows[entry.SJD] = window
	}

	s.mu.Lock()
	s.windows = windows
	s.mu.Unlock()
}

const mjdUnixEpoch = 40587

// CurrentSJD returns the SJD in effect at the given instant, matching the
// rollover used by Computed.
func CurrentSJD(now time.Time) int {
	return int(now.UTC().Unix()/86400) + mjdUnixEpoch + 1
}

// Computed approximates night bounds when no table row exists. The bounds use
// fixed twilight offsets for the site rather than a full solar ephemeris,
// which is close enough for metrics over nights the table does not yet cover.
type Computed struct {
	// EveningUTC and MorningUTC are offsets from the UTC midnight at which
	// the SJD rolls over. Zero values use the site defaults.
	EveningUTC time.Duration
	MorningUTC time.Duration
}

// NightBounds implements Source.
func (c Computed) NightBounds(_ context.Context, sjd int) (NightWindow, error) {
	if sjd <= 0 {
		return NightWindow{}, ErrUnknownNight
	}
	evening := c.EveningUTC
	if evening == 0 {
		evening = 23*time.Hour + 30*time.Minute
	}
	morning := c.MorningUTC
	if morning == 0 {
		morning = 33*time.Hour + 30*time.Minute
	}

	// The SJD flips at local noon; anchor the night on the previous UTC day.
	day := time.Unix(int64(sjd-1-mjdUnixEpoch)*86400, 0).UTC()
	window := NightWindow{
		SJD:   sjd,
		Start: day.Add(evening),
		End:   day.Add(morning),
	}
	if err := window.Validate(); err != nil {
		return NightWindow{}, err
	}
	return window, nil
}
