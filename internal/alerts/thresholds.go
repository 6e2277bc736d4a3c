package alerts

import (
	"errors"
	"fmt"
)

// Thresholds is the alert rule configuration. Missing or inconsistent values
// are a startup error: the system must not serve partially-configured rules.
type Thresholds struct {
	DewPointWarningMargin  float64 `yaml:"dew_point_warning_margin"`
	DewPointCriticalMargin float64 `yaml:"dew_point_critical_margin"`
	WindWarning            float64 `yaml:"wind_warning"`
	WindCritical           float64 `yaml:"wind_critical"`
	HumidityWarning        float64 `yaml:"humidity_warning"`
	O2Minimum              float64 `yaml:"o2_minimum"`
}

// DefaultThresholds returns the site defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DewPointWarningMargin:  3,
		DewPointCriticalMargin: 1,
		WindWarning:            35,
		WindCritical:           50,
		HumidityWarning:        80,
		O2Minimum:              19.5,
	}
}

// Validate checks threshold invariants.
func (t Thresholds) Validate() error {
	if t.DewPointWarningMargin <= 0 {
		return errors.New("thresholds: dew point warning margin must be positive")
	}
	if t.DewPointCriticalMargin <= 0 {
		return errors.New("thresholds: dew point critical margin must be positive")
	}
	if t.DewPointCriticalMargin >= t.DewPointWarningMargin {
		return fmt.Errorf("thresholds: dew point critical margin %.1f must be tighter than warning margin %.1f",
			t.DewPointCriticalMargin, t.DewPointWarningMargin)
	}
	if t.WindWarning <= 0 {
		return errors.New("thresholds: wind warning threshold must be positive")
	}
	if t.WindCritical <= t.WindWarning {
		return fmt.Errorf("thresholds: wind critical threshold %.1f must exceed warning threshold %.1f",
			t.WindCritical, t.WindWarning)
	}
	if t.HumidityWarning <= 0 || t.HumidityWarning > 100 {
		return errors.New("thresholds: humidity threshold must be in (0, 100]")
	}
	if t.O2Minimum <= 0 || t.O2Minimum > 100 {
		return errors.New("thresholds: O2 minimum must be in (0, 100]")
	}
	return nil
}
