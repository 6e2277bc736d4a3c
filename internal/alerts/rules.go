package alerts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"observatory-ops/internal/telemetry/domain"
)

// Rule evaluates one condition against the snapshot of its source. A nil
// alert means the condition is not met; an error means the snapshot lacks
// the fields the rule needs.
type Rule interface {
	Name() string
	Source() domain.Source
	Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error)
}

// dewPointRule fires when the outside temperature approaches the dew point.
// Graduated: the critical margin is tighter than the warning margin and only
// the highest crossed severity is emitted.
type dewPointRule struct {
	warningMargin  float64
	criticalMargin float64
}

func (dewPointRule) Name() string          { return "dew_point_warning" }
func (dewPointRule) Source() domain.Source { return domain.SourceWeather }

func (r dewPointRule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	temperature, ok := snapshot.Float("temperature")
	if !ok {
		return nil, fmt.Errorf("dew point rule: missing temperature")
	}
	dewPoint, ok := snapshot.Float("dew_point")
	if !ok {
		return nil, fmt.Errorf("dew point rule: missing dew_point")
	}

	margin := temperature - dewPoint
	if margin >= r.warningMargin {
		return nil, nil
	}

	severity := SeverityWarning
	if margin < r.criticalMargin {
		severity = SeverityCritical
	}
	return &Alert{
		Name:     r.Name(),
		Severity: severity,
		Message:  fmt.Sprintf("Outside temperature %.1f°C is within %.1f°C of the dew point", temperature, margin),
		RaisedAt: now,
		Context: map[string]any{
			"temperature": temperature,
			"dew_point":   dewPoint,
			"margin":      margin,
		},
	}, nil
}

// windRule fires above the average wind speed thresholds.
type windRule struct {
	warning  float64
	critical float64
}

func (windRule) Name() string          { return "wind_speed_alert" }
func (windRule) Source() domain.Source { return domain.SourceWeather }

func (r windRule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	wind, ok := snapshot.Float("wind_speed_avg")
	if !ok {
		return nil, fmt.Errorf("wind rule: missing wind_speed_avg")
	}
	if wind <= r.warning {
		return nil, nil
	}
	severity := SeverityWarning
	if wind > r.critical {
		severity = SeverityCritical
	}
	return &Alert{
		Name:     r.Name(),
		Severity: severity,
		Message:  fmt.Sprintf("Average wind speed %.1f mph above the %.0f mph limit", wind, r.warning),
		RaisedAt: now,
		Context:  map[string]any{"wind_speed_avg": wind},
	}, nil
}

// humidityRule fires above the relative humidity threshold.
type humidityRule struct {
	threshold float64
}

func (humidityRule) Name() string          { return "humidity_alert" }
func (humidityRule) Source() domain.Source { return domain.SourceWeather }

func (r humidityRule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	humidity, ok := snapshot.Float("relative_humidity")
	if !ok {
		return nil, fmt.Errorf("humidity rule: missing relative_humidity")
	}
	if humidity <= r.threshold {
		return nil, nil
	}
	return &Alert{
		Name:     r.Name(),
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("Relative humidity %.0f%% above the %.0f%% limit", humidity, r.threshold),
		RaisedAt: now,
		Context:  map[string]any{"relative_humidity": humidity},
	}, nil
}

// connectivityRule fires when any configured probe is unreachable.
type connectivityRule struct{}

func (connectivityRule) Name() string          { return "connectivity_alert" }
func (connectivityRule) Source() domain.Source { return domain.SourceConnectivity }

func (r connectivityRule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	if len(snapshot.Fields) == 0 {
		return nil, fmt.Errorf("connectivity rule: no probes")
	}
	var down []string
	for name := range snapshot.Fields {
		if up, ok := snapshot.Bool(name); ok && !up {
			down = append(down, name)
		}
	}
	if len(down) == 0 {
		return nil, nil
	}
	sort.Strings(down)
	return &Alert{
		Name:     r.Name(),
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("Unreachable endpoints: %s", strings.Join(down, ", ")),
		RaisedAt: now,
		Context:  map[string]any{"down": down},
	}, nil
}

// actorsRule fires when any deployed actor stops responding to health pings.
type actorsRule struct{}

func (actorsRule) Name() string          { return "actors_alert" }
func (actorsRule) Source() domain.Source { return domain.SourceActors }

func (r actorsRule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	if len(snapshot.Fields) == 0 {
		return nil, fmt.Errorf("actors rule: no actors")
	}
	var down []string
	for name := range snapshot.Fields {
		if alive, ok := snapshot.Bool(name); ok && !alive {
			down = append(down, name)
		}
	}
	if len(down) == 0 {
		return nil, nil
	}
	sort.Strings(down)
	return &Alert{
		Name:     r.Name(),
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("Actors not responding: %s", strings.Join(down, ", ")),
		RaisedAt: now,
		Context:  map[string]any{"down": down},
	}, nil
}

// engineeringModeRule reports the enclosure engineering override.
type engineeringModeRule struct{}

func (engineeringModeRule) Name() string          { return "engineering_mode" }
func (engineeringModeRule) Source() domain.Source { return domain.SourceEnclosure }

func (r engineeringModeRule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	active, ok := snapshot.Bool("engineering_mode")
	if !ok {
		return nil, fmt.Errorf("engineering mode rule: missing engineering_mode")
	}
	if !active {
		return nil, nil
	}
	return &Alert{
		Name:     r.Name(),
		Severity: SeverityInfo,
		Message:  "Enclosure engineering mode is active",
		RaisedAt: now,
	}, nil
}

// eStopRule fires when any e-stop circuit reports tripped.
type eStopRule struct{}

func (eStopRule) Name() string          { return "e_stop" }
func (eStopRule) Source() domain.Source { return domain.SourceEnclosure }

func (r eStopRule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	var tripped []string
	for name := range snapshot.Fields {
		if !strings.HasPrefix(name, "e_stop_") {
			continue
		}
		if on, ok := snapshot.Bool(name); ok && on {
			tripped = append(tripped, strings.TrimPrefix(name, "e_stop_"))
		}
	}
	if len(tripped) == 0 {
		return nil, nil
	}
	sort.Strings(tripped)
	return &Alert{
		Name:     r.Name(),
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("E-stop circuits tripped: %s", strings.Join(tripped, ", ")),
		RaisedAt: now,
		Context:  map[string]any{"circuits": tripped},
	}, nil
}

// o2Rule fires when any room O2 level drops below the minimum.
type o2Rule struct {
	minimum float64
}

func (o2Rule) Name() string          { return "o2_alert" }
func (o2Rule) Source() domain.Source { return domain.SourceEnclosure }

func (r o2Rule) Evaluate(snapshot domain.Snapshot, now time.Time) (*Alert, error) {
	low := map[string]float64{}
	for name := range snapshot.Fields {
		if !strings.HasPrefix(name, "o2_") {
			continue
		}
		if percent, ok := snapshot.Float(name); ok && percent < r.minimum {
			low[strings.TrimPrefix(name, "o2_")] = percent
		}
	}
	if len(low) == 0 {
		return nil, nil
	}
	rooms := make([]string, 0, len(low))
	for room := range low {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	context := make(map[string]any, len(low))
	for room, percent := range low {
		context[room] = percent
	}
	return &Alert{
		Name:     r.Name(),
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("O2 level below %.1f%% in: %s", r.minimum, strings.Join(rooms, ", ")),
		RaisedAt: now,
		Context:  context,
	}, nil
}
