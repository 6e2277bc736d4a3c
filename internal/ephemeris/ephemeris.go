package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownNight indicates that no bounds are available for an SJD.
var ErrUnknownNight = errors.New("ephemeris: unknown night")

// NightWindow is one observing night, from evening twilight to morning
// twilight, identified by its SJD.
type NightWindow struct {
	SJD   int       `json:"sjd"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NightLength returns the nominal night duration in seconds.
func (w NightWindow) NightLength() float64 {
	return w.End.Sub(w.Start).Seconds()
}

// HasStarted reports whether the night has begun at now.
func (w NightWindow) HasStarted(now time.Time) bool {
	return !now.Before(w.Start)
}

// IsOngoing reports whether now falls inside the night.
func (w NightWindow) IsOngoing(now time.Time) bool {
	return w.HasStarted(now) && now.Before(w.End)
}

// EffectiveEnd returns the upper bound for elapsed-night computations: now
// while the night is ongoing, the nominal end once it has finished.
func (w NightWindow) EffectiveEnd(now time.Time) time.Time {
	if now.Before(w.End) {
		return now
	}
	return w.End
}

// Source provides night bounds per SJD.
type Source interface {
	NightBounds(ctx context.Context, sjd int) (NightWindow, error)
}

// Validate checks window invariants.
func (w NightWindow) Validate() error {
	if w.SJD <= 0 {
		return fmt.Errorf("ephemeris: invalid sjd %d", w.SJD)
	}
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.New("ephemeris: zero bound")
	}
	if !w.End.After(w.Start) {
		return errors.New("ephemeris: end not after start")
	}
	return nil
}
