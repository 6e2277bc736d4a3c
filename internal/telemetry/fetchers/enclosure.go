package fetchers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"observatory-ops/internal/observability/metrics"
	"observatory-ops/internal/telemetry/domain"
)

const (
	defaultEnclosureTimeout = 5 * time.Second
	defaultEnclosureMaxAge  = 30 * time.Second
)

type enclosureStatus struct {
	EngineeringMode bool               `json:"engineering_mode"`
	EStops          map[string]bool    `json:"e_stops"`
	O2Percent       map[string]float64 `json:"o2_percent"`
	DoorAlert       *bool              `json:"door_alert"`
	RainSensorAlarm *bool              `json:"rain_sensor_alarm"`
}

// EnclosureFetcher queries the enclosure actor status endpoint. E-stop
// circuits and O2 rooms are flattened into prefixed fields.
type EnclosureFetcher struct {
	url    string
	client *http.Client
	maxAge time.Duration
}

// EnclosureOption configures the enclosure fetcher.
type EnclosureOption func(*EnclosureFetcher)

// WithEnclosureHTTPClient overrides the HTTP client.
func WithEnclosureHTTPClient(client *http.Client) EnclosureOption {
	return func(f *EnclosureFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithEnclosureMaxAge overrides the staleness threshold.
func WithEnclosureMaxAge(maxAge time.Duration) EnclosureOption {
	return func(f *EnclosureFetcher) {
		if maxAge > 0 {
			f.maxAge = maxAge
		}
	}
}

// NewEnclosureFetcher constructs an enclosure fetcher.
func NewEnclosureFetcher(url string, opts ...EnclosureOption) (*EnclosureFetcher, error) {
	if url == "" {
		return nil, errors.New("enclosure fetcher: empty url")
	}
	f := &EnclosureFetcher{
		url:    url,
		client: &http.Client{Timeout: defaultEnclosureTimeout},
		maxAge: defaultEnclosureMaxAge,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Source implements Fetcher.
func (f *EnclosureFetcher) Source() domain.Source { return domain.SourceEnclosure }

// Fetch implements Fetcher.
func (f *EnclosureFetcher) Fetch(ctx context.Context) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := f.fetch(ctx)
	metrics.ObserveFetch(string(domain.SourceEnclosure), err, time.Since(started))
	return snapshot, err
}

func (f *EnclosureFetcher) fetch(ctx context.Context) (domain.Snapshot, error) {
	if f == nil || f.url == "" {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceEnclosure, errors.New("fetcher not configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceEnclosure, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceEnclosure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceEnclosure, fmt.Errorf("status %d", resp.StatusCode))
	}

	var status enclosureStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceEnclosure, err)
	}

	fields := map[string]any{
		"engineering_mode": status.EngineeringMode,
	}
	for circuit, tripped := range status.EStops {
		fields["e_stop_"+circuit] = tripped
	}
	for room, percent := range status.O2Percent {
		fields["o2_"+room] = percent
	}
	if status.DoorAlert != nil {
		fields["door_alert"] = *status.DoorAlert
	}
	if status.RainSensorAlarm != nil {
		fields["rain_sensor_alarm"] = *status.RainSensorAlarm
	}

	return domain.NewSnapshot(domain.SourceEnclosure, time.Now().UTC(), fields, f.maxAge), nil
}
