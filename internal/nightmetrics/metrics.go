package nightmetrics

import (
	"context"
	"errors"
	"time"
)

// ErrDataUnavailable indicates that the exposure store or ephemeris source
// could not be reached.
var ErrDataUnavailable = errors.New("nightmetrics: data unavailable")

// ExposureTypeObject marks science exposures; only these count towards
// efficiency.
const ExposureTypeObject = "object"

// ExposureRecord is one exposure as reported by the exposure store.
type ExposureRecord struct {
	ExposureNo   int       `json:"exposure_no"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	ExposureType string    `json:"exposure_type"`
	ReadoutTime  float64   `json:"readout_time"`
}

// Duration returns the open-shutter time in seconds.
func (r ExposureRecord) Duration() float64 {
	return r.EndTime.Sub(r.StartTime).Seconds()
}

// ExposureStore lists exposures for a night.
type ExposureStore interface {
	ListExposures(ctx context.Context, sjd int) ([]ExposureRecord, error)
}

// NightMetrics is the derived per-night summary. Fields other than
// NightLength are nil until the night has started, to distinguish "no data
// yet" from zero efficiency.
type NightMetrics struct {
	SJD           int       `json:"sjd"`
	TwilightEnd   time.Time `json:"twilight_end"`
	TwilightStart time.Time `json:"twilight_start"`
	NightLength   float64   `json:"night_length"`
	NightStarted  bool      `json:"night_started"`
	NightEnded    bool      `json:"night_ended"`

	NObjectExposures    *int     `json:"n_object_exposures,omitempty"`
	TotalExposureTime   *float64 `json:"total_exposure_time,omitempty"`
	TimeLost            *float64 `json:"time_lost,omitempty"`
	EfficiencyNominal   *float64 `json:"efficiency_nominal,omitempty"`
	EfficiencyReadout   *float64 `json:"efficiency_readout,omitempty"`
	EfficiencyNoReadout *float64 `json:"efficiency_no_readout,omitempty"`
}
