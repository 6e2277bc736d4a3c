package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"observatory-ops/internal/alerts"
)

func validConfig() Config {
	return Config{
		Env:          "testing",
		HTTPAddr:     ":8080",
		Weather:      WeatherConfig{URL: "http://weather.local/api", Station: "DuPont", MaxAge: Duration(time.Minute)},
		EnclosureURL: "http://ecp.local/status",
		ActorsURL:    "http://actors.local/health",
		Probes:       []ProbeConfig{{Name: "internet", Address: "1.1.1.1:53"}},
		Thresholds:   alerts.DefaultThresholds(),
		Notify: NotifyConfig{
			SuppressionWindow: Duration(15 * time.Minute),
			MaxAttempts:       5,
			AttemptTimeout:    Duration(30 * time.Second),
			BackoffBase:       Duration(5 * time.Second),
			BackoffMax:        Duration(time.Minute),
		},
		MonitorInterval: Duration(time.Minute),
		TelemetryTTL:    Duration(15 * time.Second),
		NotifyAt:        alerts.SeverityWarning,
		ReadoutOverhead: 50,
		NominalOverhead: 90,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsMissingPieces(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no weather url", func(c *Config) { c.Weather.URL = "" }},
		{"no enclosure url", func(c *Config) { c.EnclosureURL = "" }},
		{"no actors url", func(c *Config) { c.ActorsURL = "" }},
		{"no probes", func(c *Config) { c.Probes = nil }},
		{"unnamed probe", func(c *Config) { c.Probes = []ProbeConfig{{Address: "1.1.1.1:53"}} }},
		{"bad thresholds", func(c *Config) { c.Thresholds.WindCritical = 1 }},
		{"zero window", func(c *Config) { c.Notify.SuppressionWindow = 0 }},
		{"zero attempts", func(c *Config) { c.Notify.MaxAttempts = 0 }},
		{"zero attempt timeout", func(c *Config) { c.Notify.AttemptTimeout = 0 }},
		{"inverted backoff", func(c *Config) { c.Notify.BackoffMax = Duration(time.Millisecond) }},
		{"zero interval", func(c *Config) { c.MonitorInterval = 0 }},
		{"bad notify level", func(c *Config) { c.NotifyAt = "urgent" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadAppliesYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
env: staging
weather:
  url: http://weather.local/api
  station: DuPont
enclosure_url: http://ecp.local/status
actors_url: http://actors.local/health
probes:
  - name: internet
    address: 1.1.1.1:53
notify:
  webhook_url: http://chat.local/hook
  suppression_window: 10m
  max_attempts: 3
  attempt_timeout: 45s
  backoff_base: 2s
  backoff_max: 1m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OBSOPS_CONFIG", path)
	t.Setenv("OBSOPS_EMAIL_RECIPIENTS", "ops@example.org, night@example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "staging" {
		t.Fatalf("yaml env must win, got %s", cfg.Env)
	}
	if cfg.Notify.SuppressionWindow.Std() != 10*time.Minute || cfg.Notify.MaxAttempts != 3 {
		t.Fatalf("yaml notify settings not applied: %+v", cfg.Notify)
	}
	if cfg.Notify.AttemptTimeout.Std() != 45*time.Second {
		t.Fatalf("yaml attempt timeout not applied: %v", cfg.Notify.AttemptTimeout.Std())
	}
	if len(cfg.Notify.EmailRecipients) != 2 {
		t.Fatalf("env recipients not applied: %v", cfg.Notify.EmailRecipients)
	}
	// Defaults survive where neither yaml nor env spoke.
	if cfg.Thresholds.WindWarning != 35 {
		t.Fatalf("default thresholds lost: %+v", cfg.Thresholds)
	}
}

func TestLoadFailsOnIncompleteConfig(t *testing.T) {
	t.Setenv("OBSOPS_CONFIG", "")
	t.Setenv("OBSOPS_WEATHER_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected load to fail without a weather url")
	}
}

func TestParseProbes(t *testing.T) {
	probes := parseProbes("internet=1.1.1.1:53, lco=lco.cl:80, malformed")
	if len(probes) != 2 {
		t.Fatalf("expected 2 probes, got %+v", probes)
	}
	if probes[1].Name != "lco" || probes[1].Address != "lco.cl:80" {
		t.Fatalf("unexpected probe %+v", probes[1])
	}
}
