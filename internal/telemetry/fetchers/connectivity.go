package fetchers

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"observatory-ops/internal/observability/metrics"
	"observatory-ops/internal/telemetry/domain"
)

const (
	defaultProbeTimeout       = 5 * time.Second
	defaultConnectivityMaxAge = 2 * time.Minute
)

// Probe is one connectivity target.
type Probe struct {
	Name    string
	Address string
}

// DialFunc opens a connection to an address. Injected in tests.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectivityFetcher checks reachability of the configured endpoints. Each
// probe yields a boolean field named after the probe.
type ConnectivityFetcher struct {
	probes  []Probe
	timeout time.Duration
	dial    DialFunc
	maxAge  time.Duration
}

// ConnectivityOption configures the connectivity fetcher.
type ConnectivityOption func(*ConnectivityFetcher)

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(timeout time.Duration) ConnectivityOption {
	return func(f *ConnectivityFetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithDialFunc overrides the dialer.
func WithDialFunc(dial DialFunc) ConnectivityOption {
	return func(f *ConnectivityFetcher) {
		if dial != nil {
			f.dial = dial
		}
	}
}

// WithConnectivityMaxAge overrides the staleness threshold.
func WithConnectivityMaxAge(maxAge time.Duration) ConnectivityOption {
	return func(f *ConnectivityFetcher) {
		if maxAge > 0 {
			f.maxAge = maxAge
		}
	}
}

// NewConnectivityFetcher constructs a connectivity fetcher.
func NewConnectivityFetcher(probes []Probe, opts ...ConnectivityOption) (*ConnectivityFetcher, error) {
	if len(probes) == 0 {
		return nil, errors.New("connectivity fetcher: no probes")
	}
	for _, probe := range probes {
		if probe.Name == "" || probe.Address == "" {
			return nil, errors.New("connectivity fetcher: probe requires name and address")
		}
	}
	dialer := &net.Dialer{}
	f := &ConnectivityFetcher{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		dial:    dialer.DialContext,
		maxAge:  defaultConnectivityMaxAge,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Source implements Fetcher.
func (f *ConnectivityFetcher) Source() domain.Source { return domain.SourceConnectivity }

// Fetch implements Fetcher. A probe failure or timeout marks the endpoint
// unreachable; it is not a fetch error since unreachability is the signal.
func (f *ConnectivityFetcher) Fetch(ctx context.Context) (domain.Snapshot, error) {
	started := time.Now()
	if f == nil || len(f.probes) == 0 {
		err := domain.NewFetchError(domain.SourceConnectivity, errors.New("fetcher not configured"))
		metrics.ObserveFetch(string(domain.SourceConnectivity), err, time.Since(started))
		return domain.Snapshot{}, err
	}

	fields := make(map[string]any, len(f.probes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, probe := range f.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			up := f.probeUp(ctx, probe)
			mu.Lock()
			fields[probe.Name] = up
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	metrics.ObserveFetch(string(domain.SourceConnectivity), nil, time.Since(started))
	return domain.NewSnapshot(domain.SourceConnectivity, time.Now().UTC(), fields, f.maxAge), nil
}

func (f *ConnectivityFetcher) probeUp(ctx context.Context, probe Probe) bool {
	probeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	conn, err := f.dial(probeCtx, "tcp", probe.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
