package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"observatory-ops/internal/alerts"
	"observatory-ops/internal/cache"
	"observatory-ops/internal/notify"
	"observatory-ops/internal/observability/metrics"
	"observatory-ops/internal/telemetry/domain"
	"observatory-ops/internal/telemetry/fetchers"
)

// Notifier is the dispatch surface the monitor needs.
type Notifier interface {
	Notify(ctx context.Context, alert alerts.Alert, opts ...notify.NotifyOption) (notify.Decision, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Monitor periodically gathers telemetry, evaluates alert rules and routes
// raised alerts to the dispatcher.
type Monitor struct {
	cache      *cache.Cache
	fetchers   []fetchers.Fetcher
	evaluator  *alerts.Evaluator
	dispatcher Notifier
	interval   time.Duration
	cacheTTL   time.Duration
	notifyAt   alerts.Severity
	clock      Clock
	log        *log.Logger
}

// Option configures the monitor.
type Option func(*Monitor)

// WithInterval overrides the evaluation interval.
func WithInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithCacheTTL overrides how long telemetry snapshots are served from
// cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Monitor) {
		if ttl > 0 {
			m.cacheTTL = ttl
		}
	}
}

// WithNotifyAt sets the minimum severity that reaches the dispatcher.
func WithNotifyAt(severity alerts.Severity) Option {
	return func(m *Monitor) {
		if severity.Valid() {
			m.notifyAt = severity
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.log = logger
		}
	}
}

// New constructs a monitor.
func New(telemetryCache *cache.Cache, fetcherList []fetchers.Fetcher, evaluator *alerts.Evaluator, dispatcher Notifier, opts ...Option) (*Monitor, error) {
	if telemetryCache == nil {
		return nil, errors.New("monitor: nil cache")
	}
	if len(fetcherList) == 0 {
		return nil, errors.New("monitor: no fetchers")
	}
	if evaluator == nil {
		return nil, errors.New("monitor: nil evaluator")
	}
	monitor := &Monitor{
		cache:      telemetryCache,
		fetchers:   fetcherList,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		interval:   time.Minute,
		cacheTTL:   15 * time.Second,
		notifyAt:   alerts.SeverityWarning,
		clock:      systemClock{},
		log:        log.Default(),
	}
	for _, opt := range opts {
		opt(monitor)
	}
	return monitor, nil
}

// Summary gathers every telemetry source through the cache and evaluates
// the alert rules. Sources that fail to fetch are absent from the bundle;
// the evaluator reports them as data unavailable.
func (m *Monitor) Summary(ctx context.Context) (alerts.Bundle, []alerts.Alert, error) {
	if m == nil {
		return nil, nil, errors.New("monitor: nil monitor")
	}
	bundle := make(alerts.Bundle, len(m.fetchers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, fetcher := range m.fetchers {
		wg.Add(1)
		go func(fetcher fetchers.Fetcher) {
			defer wg.Done()
			source := fetcher.Source()
			key := cacheKey(source)
			// Fetch metrics are recorded inside the fetchers so a cache hit
			// never counts as a fetch.
			value, err := m.cache.GetOrCompute(ctx, key, m.cacheTTL, func(ctx context.Context) (any, error) {
				return fetcher.Fetch(ctx)
			})
			if err != nil {
				m.log.Printf("monitor source=%s fetch failed: %v", source, err)
				return
			}
			snapshot, ok := value.(domain.Snapshot)
			if !ok {
				m.log.Printf("monitor source=%s unexpected cached type %T", source, value)
				return
			}
			mu.Lock()
			bundle[source] = snapshot
			mu.Unlock()
		}(fetcher)
	}
	wg.Wait()

	start := m.clock.Now()
	raised := m.evaluator.Evaluate(bundle, m.clock.Now())
	metrics.ObserveEvaluation(nil, time.Since(start))
	for _, alert := range raised {
		metrics.IncAlertRaised(alert.Name, string(alert.Severity))
	}
	return bundle, raised, nil
}

// Run evaluates on every tick until ctx is cancelled, notifying alerts at
// or above the configured severity.
func (m *Monitor) Run(ctx context.Context) error {
	if m == nil {
		return errors.New("monitor: nil monitor")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	_, raised, err := m.Summary(ctx)
	if err != nil {
		m.log.Printf("monitor evaluation failed: %v", err)
		return
	}
	if m.dispatcher == nil {
		return
	}
	for _, alert := range raised {
		if !alert.Severity.AtLeast(m.notifyAt) {
			continue
		}
		decision, err := m.dispatcher.Notify(ctx, alert)
		if err != nil {
			m.log.Printf("monitor alert=%s notify failed: %v", alert.Name, err)
			continue
		}
		if decision == notify.DecisionQueued {
			m.log.Printf("monitor alert=%s severity=%s queued", alert.Name, alert.Severity)
		}
	}
}

func cacheKey(source domain.Source) string {
	return fmt.Sprintf("telemetry:%s", source)
}
