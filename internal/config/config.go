package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"observatory-ops/internal/alerts"
)

// Duration is a time.Duration that unmarshals from yaml strings such as
// "15s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WeatherConfig selects the weather API endpoint and station.
type WeatherConfig struct {
	URL     string   `yaml:"url"`
	Station string   `yaml:"station"`
	MaxAge  Duration `yaml:"max_age"`
}

// ProbeConfig is one connectivity probe target.
type ProbeConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// NotifyConfig controls routing and the delivery pipeline.
type NotifyConfig struct {
	WebhookURL        string   `yaml:"webhook_url"`
	SMTPAddr          string   `yaml:"smtp_addr"`
	SMTPFrom          string   `yaml:"smtp_from"`
	EmailRecipients   []string `yaml:"email_recipients"`
	SuppressionWindow Duration `yaml:"suppression_window"`
	MaxAttempts       int      `yaml:"max_attempts"`
	AttemptTimeout    Duration `yaml:"attempt_timeout"`
	BackoffBase       Duration `yaml:"backoff_base"`
	BackoffMax        Duration `yaml:"backoff_max"`
}

// Config is the full service configuration. Defaults come first, the
// OBSOPS_CONFIG yaml file overrides them, and a handful of env variables
// fill anything still empty.
type Config struct {
	Env         string `yaml:"env"`
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`

	Weather        WeatherConfig `yaml:"weather"`
	EnclosureURL   string        `yaml:"enclosure_url"`
	ActorsURL      string        `yaml:"actors_url"`
	Probes         []ProbeConfig `yaml:"probes"`
	EphemerisTable string        `yaml:"ephemeris_table"`

	Thresholds alerts.Thresholds `yaml:"thresholds"`
	Notify     NotifyConfig      `yaml:"notify"`

	MonitorInterval Duration        `yaml:"monitor_interval"`
	TelemetryTTL    Duration        `yaml:"telemetry_ttl"`
	NotifyAt        alerts.Severity `yaml:"notify_at"`

	ReadoutOverhead float64 `yaml:"readout_overhead"`
	NominalOverhead float64 `yaml:"nominal_overhead"`
}

// Load builds the configuration from defaults, yaml and env.
func Load() (Config, error) {
	cfg := Config{
		Env:        getenvDefault("OBSOPS_ENV", "production"),
		HTTPAddr:   getenvDefault("OBSOPS_HTTP_ADDR", ":8080"),
		Thresholds: alerts.DefaultThresholds(),
		Weather: WeatherConfig{
			Station: "DuPont",
			MaxAge:  Duration(2 * time.Minute),
		},
		Notify: NotifyConfig{
			SuppressionWindow: Duration(15 * time.Minute),
			MaxAttempts:       5,
			AttemptTimeout:    Duration(30 * time.Second),
			BackoffBase:       Duration(5 * time.Second),
			BackoffMax:        Duration(5 * time.Minute),
		},
		MonitorInterval: Duration(time.Minute),
		TelemetryTTL:    Duration(15 * time.Second),
		NotifyAt:        alerts.SeverityWarning,
		ReadoutOverhead: 50,
		NominalOverhead: 90,
	}

	if path := os.Getenv("OBSOPS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("OBSOPS_DATABASE_URL")
	}
	if cfg.Weather.URL == "" {
		cfg.Weather.URL = os.Getenv("OBSOPS_WEATHER_URL")
	}
	if cfg.EnclosureURL == "" {
		cfg.EnclosureURL = os.Getenv("OBSOPS_ENCLOSURE_URL")
	}
	if cfg.ActorsURL == "" {
		cfg.ActorsURL = os.Getenv("OBSOPS_ACTORS_URL")
	}
	if len(cfg.Probes) == 0 {
		cfg.Probes = parseProbes(os.Getenv("OBSOPS_PROBES"))
	}
	if cfg.EphemerisTable == "" {
		cfg.EphemerisTable = os.Getenv("OBSOPS_EPHEMERIS_TABLE")
	}
	if cfg.Notify.WebhookURL == "" {
		cfg.Notify.WebhookURL = os.Getenv("OBSOPS_WEBHOOK_URL")
	}
	if cfg.Notify.SMTPAddr == "" {
		cfg.Notify.SMTPAddr = os.Getenv("OBSOPS_SMTP_ADDR")
	}
	if cfg.Notify.SMTPFrom == "" {
		cfg.Notify.SMTPFrom = os.Getenv("OBSOPS_SMTP_FROM")
	}
	if len(cfg.Notify.EmailRecipients) == 0 {
		cfg.Notify.EmailRecipients = splitCSV(os.Getenv("OBSOPS_EMAIL_RECIPIENTS"))
	}
	if value := os.Getenv("OBSOPS_MONITOR_INTERVAL"); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.MonitorInterval = Duration(parsed)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot safely run with.
// Callers treat an error here as fatal at startup.
func (c Config) Validate() error {
	if c.Env == "" {
		return errors.New("config: env is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: http_addr is required")
	}
	if c.Weather.URL == "" {
		return errors.New("config: weather url is required")
	}
	if c.EnclosureURL == "" {
		return errors.New("config: enclosure url is required")
	}
	if c.ActorsURL == "" {
		return errors.New("config: actors url is required")
	}
	if len(c.Probes) == 0 {
		return errors.New("config: at least one connectivity probe is required")
	}
	for _, probe := range c.Probes {
		if probe.Name == "" || probe.Address == "" {
			return fmt.Errorf("config: probe %q needs name and address", probe.Name)
		}
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Notify.SuppressionWindow <= 0 {
		return errors.New("config: suppression window must be positive")
	}
	if c.Notify.MaxAttempts <= 0 {
		return errors.New("config: max attempts must be positive")
	}
	if c.Notify.AttemptTimeout <= 0 {
		return errors.New("config: attempt timeout must be positive")
	}
	if c.Notify.BackoffBase <= 0 || c.Notify.BackoffMax < c.Notify.BackoffBase {
		return errors.New("config: backoff base must be positive and below the cap")
	}
	if c.MonitorInterval <= 0 {
		return errors.New("config: monitor interval must be positive")
	}
	if c.TelemetryTTL <= 0 {
		return errors.New("config: telemetry ttl must be positive")
	}
	if !c.NotifyAt.Valid() {
		return fmt.Errorf("config: invalid notify_at %q", c.NotifyAt)
	}
	if c.ReadoutOverhead < 0 || c.NominalOverhead <= 0 {
		return errors.New("config: exposure overheads must be positive")
	}
	return nil
}

// parseProbes reads "name=host:port" pairs from a comma separated list.
func parseProbes(value string) []ProbeConfig {
	var probes []ProbeConfig
	for _, part := range splitCSV(value) {
		name, address, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		probes = append(probes, ProbeConfig{
			Name:    strings.TrimSpace(name),
			Address: strings.TrimSpace(address),
		})
	}
	return probes
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
