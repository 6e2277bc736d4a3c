package nightmetrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"observatory-ops/internal/ephemeris"
)

const (
	defaultReadoutOverhead = 50.0
	defaultNominalOverhead = 90.0
	defaultWindowGrace     = 300 * time.Second
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Engine computes per-night derived metrics from the exposure store and the
// night's ephemeris window.
type Engine struct {
	store ExposureStore
	eph   ephemeris.Source
	clock Clock
	log   *log.Logger

	readoutOverhead float64
	nominalOverhead float64
	grace           time.Duration
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithClock overrides the default clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger for data-quality warnings.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// WithOverheads overrides the per-exposure readout and nominal overheads,
// in seconds.
func WithOverheads(readout, nominal float64) EngineOption {
	return func(e *Engine) {
		if readout > 0 {
			e.readoutOverhead = readout
		}
		if nominal > 0 {
			e.nominalOverhead = nominal
		}
	}
}

// WithWindowGrace overrides the grace period after nominal night end during
// which a finishing exposure still counts as in-window.
func WithWindowGrace(grace time.Duration) EngineOption {
	return func(e *Engine) {
		if grace > 0 {
			e.grace = grace
		}
	}
}

// NewEngine constructs a metrics engine.
func NewEngine(store ExposureStore, eph ephemeris.Source, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("nightmetrics: nil exposure store")
	}
	if eph == nil {
		return nil, errors.New("nightmetrics: nil ephemeris source")
	}
	e := &Engine{
		store:           store,
		eph:             eph,
		clock:           systemClock{},
		readoutOverhead: defaultReadoutOverhead,
		nominalOverhead: defaultNominalOverhead,
		grace:           defaultWindowGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Compute returns the night metrics for an SJD. An unreachable exposure
// store degrades to night-length-only metrics rather than failing; only a
// missing ephemeris window is a hard error.
func (e *Engine) Compute(ctx context.Context, sjd int) (NightMetrics, error) {
	if e == nil {
		return NightMetrics{}, errors.New("nightmetrics: nil engine")
	}

	window, err := e.eph.NightBounds(ctx, sjd)
	if err != nil {
		return NightMetrics{}, fmt.Errorf("%w: night bounds: %v", ErrDataUnavailable, err)
	}

	now := e.clock.Now().UTC()
	metrics := NightMetrics{
		SJD:           sjd,
		TwilightEnd:   window.Start,
		TwilightStart: window.End,
		NightLength:   round2(window.NightLength()),
		NightStarted:  window.HasStarted(now),
		NightEnded:    !now.Before(window.End),
	}

	// Before twilight there is nothing to measure; reporting zeros here
	// would be indistinguishable from a lost night.
	if !metrics.NightStarted {
		return metrics, nil
	}

	effectiveEnd := window.EffectiveEnd(now)
	elapsed := effectiveEnd.Sub(window.Start).Seconds()
	if elapsed <= 0 {
		return metrics, nil
	}

	records, err := e.store.ListExposures(ctx, sjd)
	if err != nil {
		if e.log != nil {
			e.log.Printf("night metrics: exposure store unavailable for sjd %d: %v", sjd, err)
		}
		return metrics, nil
	}

	exposures := e.filterObjectExposures(records, window, sjd)

	n := len(exposures)
	totalExpTime := 0.0
	for _, exposure := range exposures {
		totalExpTime += exposure.Duration()
	}

	timeLost := e.timeLost(exposures, window.Start, effectiveEnd)

	metrics.NObjectExposures = intPtr(n)
	metrics.TotalExposureTime = floatPtr(round2(totalExpTime))
	metrics.TimeLost = floatPtr(round2(timeLost))
	metrics.EfficiencyNoReadout = floatPtr(efficiency(totalExpTime, elapsed))
	metrics.EfficiencyReadout = floatPtr(efficiency(totalExpTime+float64(n)*e.readoutOverhead, elapsed))
	metrics.EfficiencyNominal = floatPtr(efficiency(totalExpTime+float64(n)*e.nominalOverhead, elapsed))

	return metrics, nil
}

func (e *Engine) filterObjectExposures(records []ExposureRecord, window ephemeris.NightWindow, sjd int) []ExposureRecord {
	var exposures []ExposureRecord
	for _, record := range records {
		if record.ExposureType != ExposureTypeObject {
			continue
		}
		if record.StartTime.IsZero() || record.EndTime.IsZero() || !record.EndTime.After(record.StartTime) {
			if e.log != nil {
				e.log.Printf("night metrics: skipping malformed exposure %d on sjd %d", record.ExposureNo, sjd)
			}
			continue
		}
		if !record.StartTime.After(window.Start) {
			continue
		}
		if record.EndTime.After(window.End.Add(e.grace)) {
			continue
		}
		exposures = append(exposures, record)
	}
	sort.Slice(exposures, func(i, j int) bool {
		return exposures[i].StartTime.Before(exposures[j].StartTime)
	})
	return exposures
}

// timeLost sums the inter-exposure gaps that exceed the nominal overhead,
// including the lead-in from night start and the tail up to effectiveEnd.
// The tail never extends past "now" for an ongoing night because
// effectiveEnd is already clamped.
func (e *Engine) timeLost(exposures []ExposureRecord, start, effectiveEnd time.Time) float64 {
	if len(exposures) == 0 {
		return effectiveEnd.Sub(start).Seconds()
	}

	lost := 0.0
	cursor := start
	for _, exposure := range exposures {
		gap := exposure.StartTime.Sub(cursor).Seconds()
		if gap > e.nominalOverhead {
			lost += gap - e.nominalOverhead
		}
		if exposure.EndTime.After(cursor) {
			cursor = exposure.EndTime
		}
	}
	if tail := effectiveEnd.Sub(cursor).Seconds(); tail > e.nominalOverhead {
		lost += tail - e.nominalOverhead
	}
	if lost < 0 {
		return 0
	}
	return lost
}

func efficiency(useful, elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	value := round2(useful / elapsed * 100)
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
