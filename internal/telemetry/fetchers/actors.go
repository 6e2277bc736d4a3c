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
	defaultActorsTimeout = 5 * time.Second
	defaultActorsMaxAge  = 2 * time.Minute
)

// ActorsFetcher queries the actor health endpoint. The endpoint reports one
// boolean per deployed actor; each becomes a snapshot field named after the
// actor.
type ActorsFetcher struct {
	url    string
	client *http.Client
	maxAge time.Duration
}

// ActorsOption configures the actors fetcher.
type ActorsOption func(*ActorsFetcher)

// WithActorsHTTPClient overrides the HTTP client.
func WithActorsHTTPClient(client *http.Client) ActorsOption {
	return func(f *ActorsFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithActorsMaxAge overrides the staleness threshold.
func WithActorsMaxAge(maxAge time.Duration) ActorsOption {
	return func(f *ActorsFetcher) {
		if maxAge > 0 {
			f.maxAge = maxAge
		}
	}
}

// NewActorsFetcher constructs an actors fetcher.
func NewActorsFetcher(url string, opts ...ActorsOption) (*ActorsFetcher, error) {
	if url == "" {
		return nil, errors.New("actors fetcher: empty url")
	}
	f := &ActorsFetcher{
		url:    url,
		client: &http.Client{Timeout: defaultActorsTimeout},
		maxAge: defaultActorsMaxAge,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Source implements Fetcher.
func (f *ActorsFetcher) Source() domain.Source { return domain.SourceActors }

// Fetch implements Fetcher.
func (f *ActorsFetcher) Fetch(ctx context.Context) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := f.fetch(ctx)
	metrics.ObserveFetch(string(domain.SourceActors), err, time.Since(started))
	return snapshot, err
}

func (f *ActorsFetcher) fetch(ctx context.Context) (domain.Snapshot, error) {
	if f == nil || f.url == "" {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceActors, errors.New("fetcher not configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceActors, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceActors, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceActors, fmt.Errorf("status %d", resp.StatusCode))
	}

	var health map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceActors, err)
	}
	if len(health) == 0 {
		return domain.Snapshot{}, domain.NewFetchError(domain.SourceActors, errors.New("no actors reported"))
	}

	fields := make(map[string]any, len(health))
	for actor, alive := range health {
		fields[actor] = alive
	}
	return domain.NewSnapshot(domain.SourceActors, time.Now().UTC(), fields, f.maxAge), nil
}
