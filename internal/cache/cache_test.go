package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c := New()

	var calls atomic.Int64
	gate := make(chan struct{})

	compute := func(_ context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "value", nil
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make([]any, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "weather", time.Minute, compute)
		}(i)
	}

	// Let the goroutines pile up on the flight group before releasing.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one compute call, got %d", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "value" {
			t.Fatalf("worker %d: unexpected value: %v", i, results[i])
		}
	}
}

func TestGetOrComputeHitSkipsCompute(t *testing.T) {
	c := New()

	var calls int
	compute := func(_ context.Context) (any, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		value, err := c.GetOrCompute(context.Background(), "enclosure", time.Minute, compute)
		if err != nil {
			t.Fatalf("get or compute: %v", err)
		}
		if value != 42 {
			t.Fatalf("unexpected value: %v", value)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one compute call, got %d", calls)
	}
}

func TestGetOrComputeExpiryTriggersRefetch(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock))

	var calls int
	compute := func(_ context.Context) (any, error) {
		calls++
		return calls, nil
	}

	if _, err := c.GetOrCompute(context.Background(), "weather", 10*time.Second, compute); err != nil {
		t.Fatalf("first compute: %v", err)
	}
	clock.Advance(11 * time.Second)
	value, err := c.GetOrCompute(context.Background(), "weather", 10*time.Second, compute)
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected refetch after expiry, calls=%d", calls)
	}
	if value != 2 {
		t.Fatalf("expected refreshed value, got %v", value)
	}
}

func TestGetOrComputeErrorNotStored(t *testing.T) {
	c := New()

	fetchErr := errors.New("upstream timeout")
	calls := 0
	failing := func(_ context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, fetchErr
		}
		return "ok", nil
	}

	if _, err := c.GetOrCompute(context.Background(), "probe", time.Minute, failing); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed computation must not be stored")
	}

	value, err := c.GetOrCompute(context.Background(), "probe", time.Minute, failing)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if value != "ok" {
		t.Fatalf("unexpected value after retry: %v", value)
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	c := New()

	calls := 0
	compute := func(_ context.Context) (any, error) {
		calls++
		return calls, nil
	}

	if _, err := c.GetOrCompute(context.Background(), "enclosure", time.Hour, compute); err != nil {
		t.Fatalf("compute: %v", err)
	}
	c.Invalidate("enclosure")
	value, err := c.GetOrCompute(context.Background(), "enclosure", time.Hour, compute)
	if err != nil {
		t.Fatalf("compute after invalidate: %v", err)
	}
	if calls != 2 || value != 2 {
		t.Fatalf("expected recompute after invalidate, calls=%d value=%v", calls, value)
	}
}

func TestInvalidateAll(t *testing.T) {
	c := New()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := c.GetOrCompute(context.Background(), key, time.Hour, func(_ context.Context) (any, error) {
			return key, nil
		}); err != nil {
			t.Fatalf("compute %s: %v", key, err)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}
	c.InvalidateAll()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after InvalidateAll, got %d", c.Len())
	}
}
