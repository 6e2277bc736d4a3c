package alerts

import (
	"testing"
	"time"

	"observatory-ops/internal/telemetry/domain"
)

var evalNow = time.Date(2026, 8, 29, 4, 0, 0, 0, time.UTC)

func freshSnapshot(source domain.Source, fields map[string]any) domain.Snapshot {
	return domain.NewSnapshot(source, evalNow.Add(-5*time.Second), fields, time.Minute)
}

func goodBundle() Bundle {
	return Bundle{
		domain.SourceWeather: freshSnapshot(domain.SourceWeather, map[string]any{
			"temperature":       12.0,
			"dew_point":         2.0,
			"relative_humidity": 40.0,
			"wind_speed_avg":    10.0,
		}),
		domain.SourceConnectivity: freshSnapshot(domain.SourceConnectivity, map[string]any{
			"internet": true,
			"lco":      true,
		}),
		domain.SourceEnclosure: freshSnapshot(domain.SourceEnclosure, map[string]any{
			"engineering_mode": false,
			"e_stop_north":     false,
			"o2_spec_room":     20.8,
		}),
		domain.SourceActors: freshSnapshot(domain.SourceActors, map[string]any{
			"lvmecp": true,
			"lvmscp": true,
		}),
	}
}

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	evaluator, err := NewEvaluator(DefaultThresholds())
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	return evaluator
}

func findAlert(alerts []Alert, name string) *Alert {
	for i := range alerts {
		if alerts[i].Name == name {
			return &alerts[i]
		}
	}
	return nil
}

func TestEvaluateQuietNight(t *testing.T) {
	alerts := newEvaluator(t).Evaluate(goodBundle(), evalNow)
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
}

func TestDewPointWarningScenario(t *testing.T) {
	bundle := goodBundle()
	// Dew point 2.5° below the outside temperature: inside the 3° warning
	// margin but outside the 1° critical margin.
	bundle[domain.SourceWeather] = freshSnapshot(domain.SourceWeather, map[string]any{
		"temperature":       10.0,
		"dew_point":         7.5,
		"relative_humidity": 40.0,
		"wind_speed_avg":    10.0,
	})

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %+v", alerts)
	}
	alert := alerts[0]
	if alert.Name != "dew_point_warning" || alert.Severity != SeverityWarning {
		t.Fatalf("expected dew_point_warning at warning severity, got %s/%s", alert.Name, alert.Severity)
	}
	// Repeating the evaluation with the same readings must produce the same
	// alert name so the dispatcher can recognize the repeat.
	again := newEvaluator(t).Evaluate(bundle, evalNow.Add(30*time.Second))
	if len(again) != 1 || again[0].Name != alert.Name || again[0].Severity != alert.Severity {
		t.Fatalf("repeat evaluation must be stable, got %+v", again)
	}
}

func TestDewPointGraduatedCritical(t *testing.T) {
	bundle := goodBundle()
	bundle[domain.SourceWeather] = freshSnapshot(domain.SourceWeather, map[string]any{
		"temperature":       10.0,
		"dew_point":         9.5,
		"relative_humidity": 40.0,
		"wind_speed_avg":    10.0,
	})

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	alert := findAlert(alerts, "dew_point_warning")
	if alert == nil || alert.Severity != SeverityCritical {
		t.Fatalf("expected critical dew point alert, got %+v", alerts)
	}
	// Only the highest crossed severity is emitted for a graduated rule.
	count := 0
	for _, a := range alerts {
		if a.Name == "dew_point_warning" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("graduated rule must emit one alert, got %d", count)
	}
}

func TestRulesAreAdditive(t *testing.T) {
	bundle := goodBundle()
	bundle[domain.SourceWeather] = freshSnapshot(domain.SourceWeather, map[string]any{
		"temperature":       10.0,
		"dew_point":         8.0,
		"relative_humidity": 90.0,
		"wind_speed_avg":    40.0,
	})
	bundle[domain.SourceEnclosure] = freshSnapshot(domain.SourceEnclosure, map[string]any{
		"engineering_mode": true,
		"e_stop_north":     true,
		"o2_spec_room":     18.0,
	})

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	for _, name := range []string{
		"dew_point_warning",
		"humidity_alert",
		"wind_speed_alert",
		"engineering_mode",
		"e_stop",
		"o2_alert",
	} {
		if findAlert(alerts, name) == nil {
			t.Fatalf("expected %s in result set, got %+v", name, alerts)
		}
	}
	if findAlert(alerts, "e_stop").Severity != SeverityCritical {
		t.Fatalf("e-stop must be critical")
	}
	if findAlert(alerts, "engineering_mode").Severity != SeverityInfo {
		t.Fatalf("engineering mode must be info")
	}
}

func TestStaleSnapshotYieldsDataUnavailable(t *testing.T) {
	bundle := goodBundle()
	stale := domain.NewSnapshot(domain.SourceWeather, evalNow.Add(-time.Hour), map[string]any{
		"temperature":    10.0,
		"dew_point":      9.9,
		"wind_speed_avg": 90.0,
	}, time.Minute)
	bundle[domain.SourceWeather] = stale

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	if findAlert(alerts, "weather_data_unavailable") == nil {
		t.Fatalf("stale weather must raise weather_data_unavailable, got %+v", alerts)
	}
	// Stale data is unknown, not safe and not dangerous: no weather rule
	// may fire from a stale snapshot.
	if findAlert(alerts, "dew_point_warning") != nil || findAlert(alerts, "wind_speed_alert") != nil {
		t.Fatalf("weather rules must not evaluate stale data, got %+v", alerts)
	}
}

func TestMissingSnapshotYieldsDataUnavailable(t *testing.T) {
	bundle := goodBundle()
	delete(bundle, domain.SourceConnectivity)

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	if findAlert(alerts, "connectivity_data_unavailable") == nil {
		t.Fatalf("missing connectivity snapshot must raise data_unavailable, got %+v", alerts)
	}
}

func TestConnectivityAlertListsDownProbes(t *testing.T) {
	bundle := goodBundle()
	bundle[domain.SourceConnectivity] = freshSnapshot(domain.SourceConnectivity, map[string]any{
		"internet": true,
		"lco":      false,
	})

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	alert := findAlert(alerts, "connectivity_alert")
	if alert == nil {
		t.Fatalf("expected connectivity alert, got %+v", alerts)
	}
	down, ok := alert.Context["down"].([]string)
	if !ok || len(down) != 1 || down[0] != "lco" {
		t.Fatalf("expected lco probe down, got %+v", alert.Context)
	}
}

func TestActorsAlertListsDeadActors(t *testing.T) {
	bundle := goodBundle()
	bundle[domain.SourceActors] = freshSnapshot(domain.SourceActors, map[string]any{
		"lvmecp": true,
		"lvmscp": false,
	})

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	alert := findAlert(alerts, "actors_alert")
	if alert == nil {
		t.Fatalf("expected actors alert, got %+v", alerts)
	}
	down, ok := alert.Context["down"].([]string)
	if !ok || len(down) != 1 || down[0] != "lvmscp" {
		t.Fatalf("expected lvmscp down, got %+v", alert.Context)
	}
}

func TestMissingActorsSnapshotYieldsDataUnavailable(t *testing.T) {
	bundle := goodBundle()
	delete(bundle, domain.SourceActors)

	alerts := newEvaluator(t).Evaluate(bundle, evalNow)
	if findAlert(alerts, "actors_data_unavailable") == nil {
		t.Fatalf("missing actors snapshot must raise data_unavailable, got %+v", alerts)
	}
}

func TestNewEvaluatorRejectsBadThresholds(t *testing.T) {
	bad := DefaultThresholds()
	bad.WindCritical = bad.WindWarning - 1
	if _, err := NewEvaluator(bad); err == nil {
		t.Fatalf("expected config error for inverted wind thresholds")
	}

	missing := DefaultThresholds()
	missing.O2Minimum = 0
	if _, err := NewEvaluator(missing); err == nil {
		t.Fatalf("expected config error for missing O2 threshold")
	}
}
