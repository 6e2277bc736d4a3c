package alerts

import (
	"fmt"
	"sort"
	"time"

	"observatory-ops/internal/telemetry/domain"
)

// Bundle maps each telemetry source to its latest snapshot. Sources with no
// snapshot at all are treated the same as stale ones.
type Bundle map[domain.Source]domain.Snapshot

// Evaluator maps telemetry snapshots to the current set of alerts. It is
// stateless and deterministic given the same bundle and evaluation time.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator builds the static rule table from threshold configuration.
// Invalid thresholds are rejected here so a partially-configured rule set
// never serves traffic.
func NewEvaluator(thresholds Thresholds) (*Evaluator, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	return &Evaluator{
		rules: []Rule{
			dewPointRule{
				warningMargin:  thresholds.DewPointWarningMargin,
				criticalMargin: thresholds.DewPointCriticalMargin,
			},
			windRule{warning: thresholds.WindWarning, critical: thresholds.WindCritical},
			humidityRule{threshold: thresholds.HumidityWarning},
			connectivityRule{},
			actorsRule{},
			engineeringModeRule{},
			eStopRule{},
			o2Rule{minimum: thresholds.O2Minimum},
		},
	}, nil
}

// Evaluate runs every rule against the bundle. Rules are independent and
// additive. A stale or missing snapshot yields a data_unavailable alert for
// that source instead of silence, so upstream outages never read as "safe."
func (e *Evaluator) Evaluate(bundle Bundle, now time.Time) []Alert {
	if e == nil {
		return nil
	}

	byName := make(map[string]Alert)
	for _, rule := range e.rules {
		snapshot, ok := bundle[rule.Source()]
		if !ok || snapshot.IsStale(now) {
			unavailable := dataUnavailableAlert(rule.Source(), snapshot, now)
			byName[unavailable.Name] = unavailable
			continue
		}
		alert, err := rule.Evaluate(snapshot, now)
		if err != nil {
			unavailable := dataUnavailableAlert(rule.Source(), snapshot, now)
			byName[unavailable.Name] = unavailable
			continue
		}
		if alert == nil {
			continue
		}
		byName[alert.Name] = *alert
	}

	alerts := make([]Alert, 0, len(byName))
	for _, alert := range byName {
		alerts = append(alerts, alert)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Name < alerts[j].Name })
	return alerts
}

func dataUnavailableAlert(source domain.Source, snapshot domain.Snapshot, now time.Time) Alert {
	context := map[string]any{"source": string(source)}
	if !snapshot.CapturedAt.IsZero() {
		context["captured_at"] = snapshot.CapturedAt
	}
	return Alert{
		Name:     string(source) + "_data_unavailable",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("No fresh %s telemetry; condition unknown", source),
		RaisedAt: now,
		Context:  context,
	}
}
