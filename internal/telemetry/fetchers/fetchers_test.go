package fetchers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"observatory-ops/internal/telemetry/domain"
)

func TestWeatherFetcherParsesLastSample(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("station") != "DuPont" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results": [
				{"ts": "2026-08-29T03:00:00Z", "temperature": 10.0, "relative_humidity": 40.0, "wind_speed_avg": 12.0},
				{"ts": "2026-08-29T03:05:00Z", "temperature": 8.5, "relative_humidity": 60.0, "wind_speed_avg": 18.0}
			]
		}`))
	}))
	defer server.Close()

	fetcher, err := NewWeatherFetcher(server.URL, "DuPont")
	if err != nil {
		t.Fatalf("new weather fetcher: %v", err)
	}

	snapshot, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snapshot.Source != domain.SourceWeather {
		t.Fatalf("unexpected source: %s", snapshot.Source)
	}
	temp, ok := snapshot.Float("temperature")
	if !ok || temp != 8.5 {
		t.Fatalf("expected last sample temperature 8.5, got %v", temp)
	}
	// Dew point derived from temperature and humidity: 8.5 - (100-60)/5 = 0.5.
	dewPoint, ok := snapshot.Float("dew_point")
	if !ok || dewPoint != 0.5 {
		t.Fatalf("expected derived dew point 0.5, got %v", dewPoint)
	}
	if snapshot.CapturedAt != time.Date(2026, 8, 29, 3, 5, 0, 0, time.UTC) {
		t.Fatalf("unexpected captured at: %s", snapshot.CapturedAt)
	}
}

func TestWeatherFetcherUpstreamErrorIsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher, err := NewWeatherFetcher(server.URL, "DuPont")
	if err != nil {
		t.Fatalf("new weather fetcher: %v", err)
	}
	_, err = fetcher.Fetch(context.Background())
	var fetchErr *domain.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Source != domain.SourceWeather {
		t.Fatalf("unexpected source in error: %s", fetchErr.Source)
	}
}

type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

func TestConnectivityFetcherMarksProbes(t *testing.T) {
	dial := func(_ context.Context, _, address string) (net.Conn, error) {
		if address == "10.0.0.1:80" {
			return fakeConn{}, nil
		}
		return nil, errors.New("connection refused")
	}

	fetcher, err := NewConnectivityFetcher(
		[]Probe{
			{Name: "internet", Address: "10.0.0.1:80"},
			{Name: "lco", Address: "10.0.0.2:80"},
		},
		WithDialFunc(dial),
	)
	if err != nil {
		t.Fatalf("new connectivity fetcher: %v", err)
	}

	snapshot, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if up, ok := snapshot.Bool("internet"); !ok || !up {
		t.Fatalf("expected internet probe up")
	}
	if up, ok := snapshot.Bool("lco"); !ok || up {
		t.Fatalf("expected lco probe down")
	}
}

func TestEnclosureFetcherFlattensStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"engineering_mode": true,
			"e_stops": {"north": false, "south": true},
			"o2_percent": {"spec_room": 20.7, "util_room": 18.9},
			"door_alert": false
		}`))
	}))
	defer server.Close()

	fetcher, err := NewEnclosureFetcher(server.URL)
	if err != nil {
		t.Fatalf("new enclosure fetcher: %v", err)
	}

	snapshot, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if mode, ok := snapshot.Bool("engineering_mode"); !ok || !mode {
		t.Fatalf("expected engineering mode field")
	}
	if tripped, ok := snapshot.Bool("e_stop_south"); !ok || !tripped {
		t.Fatalf("expected south e-stop tripped")
	}
	if o2, ok := snapshot.Float("o2_util_room"); !ok || o2 != 18.9 {
		t.Fatalf("expected util room O2 18.9, got %v", o2)
	}
}

func TestActorsFetcherMapsHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lvmecp": true, "lvmscp": false, "lvmnps": true}`))
	}))
	defer server.Close()

	fetcher, err := NewActorsFetcher(server.URL)
	if err != nil {
		t.Fatalf("new actors fetcher: %v", err)
	}

	snapshot, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snapshot.Source != domain.SourceActors {
		t.Fatalf("unexpected source: %s", snapshot.Source)
	}
	if alive, ok := snapshot.Bool("lvmecp"); !ok || !alive {
		t.Fatalf("expected lvmecp alive")
	}
	if alive, ok := snapshot.Bool("lvmscp"); !ok || alive {
		t.Fatalf("expected lvmscp dead")
	}
}

func TestActorsFetcherEmptyResponseIsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	fetcher, err := NewActorsFetcher(server.URL)
	if err != nil {
		t.Fatalf("new actors fetcher: %v", err)
	}
	_, err = fetcher.Fetch(context.Background())
	var fetchErr *domain.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Source != domain.SourceActors {
		t.Fatalf("expected actors FetchError, got %v", err)
	}
}

func TestSnapshotStaleness(t *testing.T) {
	capturedAt := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	snapshot := domain.NewSnapshot(domain.SourceEnclosure, capturedAt, nil, 30*time.Second)

	if snapshot.IsStale(capturedAt.Add(10 * time.Second)) {
		t.Fatalf("snapshot should be fresh within max age")
	}
	if !snapshot.IsStale(capturedAt.Add(31 * time.Second)) {
		t.Fatalf("snapshot should be stale past max age")
	}
}
