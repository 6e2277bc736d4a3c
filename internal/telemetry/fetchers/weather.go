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
	defaultWeatherTimeout = 10 * time.Second
	defaultWeatherMaxAge  = 10 * time.Minute
)

type weatherResponse struct {
	Error   string          `json:"error,omitempty"`
	Results []weatherSample `json:"results"`
}

type weatherSample struct {
	TS               string   `json:"ts"`
	Temperature      *float64 `json:"temperature"`
	RelativeHumidity *float64 `json:"relative_humidity"`
	WindSpeedAvg     *float64 `json:"wind_speed_avg"`
	WindGust         *float64 `json:"wind_speed_max"`
	DewPoint         *float64 `json:"dew_point"`
	Rain             *bool    `json:"rain"`
}

// WeatherFetcher queries a Vaisala-style weather data service and returns the
// most recent sample as a snapshot.
type WeatherFetcher struct {
	url     string
	station string
	client  *http.Client
	maxAge  time.Duration
}

// WeatherOption configures the weather fetcher.
type WeatherOption func(*WeatherFetcher)

// WithWeatherHTTPClient overrides the HTTP client.
func WithWeatherHTTPClient(client *http.Client) WeatherOption {
	return func(f *WeatherFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithWeatherMaxAge overrides the staleness threshold for weather snapshots.
func WithWeatherMaxAge(maxAge time.Duration) WeatherOption {
	return func(f *WeatherFetcher) {
		if maxAge > 0 {
			f.maxAge = maxAge
		}
	}
}

// NewWeatherFetcher constructs a weather fetcher.
func NewWeatherFetcher(url, station string, opts ...WeatherOption) (*WeatherFetcher, error) {
	if url == "" {
		return nil, errors.New("weather fetcher: empty url")
	}
	if station == "" {
		return nil, errors.New("weather fetcher: empty station")
	}
	f := &WeatherFetcher{
		url:     url,
		station: station,
		client:  &http.Client{Timeout: defaultWeatherTimeout},
		maxAge:  defaultWeatherMaxAge,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Source implements Fetcher.
func (f *WeatherFetcher) Source() domain.Source { return domain.SourceWeather }

// Fetch implements Fetcher.
func (f *WeatherFetcher) Fetch(ctx context.Context) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := f.fetch(ctx)
	metrics.ObserveFetch(string(domain.SourceWeather), err, time.Since(started))
	return snapshot, err
}

func (f *WeatherFetcher) fetch(ctx context.Context) (domain.Snapshot, error) {
	if f == nil || f.url == "" {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceWeather, errors.New("fetcher not configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceWeather, err)
	}
	query := req.URL.Query()
	query.Set("station", f.station)
	req.URL.RawQuery = query.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceWeather, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceWeather, fmt.Errorf("status %d", resp.StatusCode))
	}

	var payload weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceWeather, err)
	}
	if payload.Error != "" {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceWeather, errors.New(payload.Error))
	}
	if len(payload.Results) == 0 {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceWeather, errors.New("no results"))
	}

	last := payload.Results[len(payload.Results)-1]
	capturedAt := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, last.TS); err == nil {
		capturedAt = ts
	}

	fields := make(map[string]any)
	if last.Temperature != nil {
		fields["temperature"] = *last.Temperature
	}
	if last.RelativeHumidity != nil {
		fields["relative_humidity"] = *last.RelativeHumidity
	}
	if last.WindSpeedAvg != nil {
		fields["wind_speed_avg"] = *last.WindSpeedAvg
	}
	if last.WindGust != nil {
		fields["wind_gust"] = *last.WindGust
	}
	if last.Rain != nil {
		fields["rain"] = *last.Rain
	}
	switch {
	case last.DewPoint != nil:
		fields["dew_point"] = *last.DewPoint
	case last.Temperature != nil && last.RelativeHumidity != nil:
		// Simple dew point approximation used by the weather station when the
		// value is not reported directly.
		fields["dew_point"] = *last.Temperature - (100-*last.RelativeHumidity)/5.0
	}

	return domain.NewSnapshot(domain.SourceWeather, capturedAt, fields, f.maxAge), nil
}
