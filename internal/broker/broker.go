package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"observatory-ops/internal/observability/metrics"
)

// ErrEmpty is returned by Dequeue when no task is ready.
var ErrEmpty = errors.New("broker: queue empty")

// Task is a unit of deferred work, usually a serialized notification.
type Task struct {
	ID          string
	Queue       string
	Channel     string
	Payload     []byte
	Attempt     int
	MaxAttempts int
	EnqueuedAt  time.Time
	NotBefore   time.Time
}

// DeadLetter is a task that permanently failed, kept for inspection.
type DeadLetter struct {
	Task     Task
	Reason   string
	FailedAt time.Time
}

// Queue is the minimal broker contract used by producers and workers.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue returns the oldest ready task or ErrEmpty.
	Dequeue(ctx context.Context, queue string) (Task, error)
	Ack(ctx context.Context, task Task) error
	// Nack reschedules the task for a retry after delay.
	Nack(ctx context.Context, task Task, delay time.Duration) error
	DeadLetter(ctx context.Context, task Task, reason string) error
}

// MemoryBroker is an in-process Queue. Queue names are namespaced by the
// deployment environment so parallel deployments sharing a broker never
// consume each other's tasks.
type MemoryBroker struct {
	env   string
	clock Clock

	mu     sync.Mutex
	queues map[string][]Task
	dead   []DeadLetter
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// MemoryOption configures the broker.
type MemoryOption func(*MemoryBroker)

// WithMemoryClock overrides the clock.
func WithMemoryClock(clock Clock) MemoryOption {
	return func(b *MemoryBroker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewMemoryBroker constructs a broker for the given environment namespace.
func NewMemoryBroker(env string, opts ...MemoryOption) *MemoryBroker {
	broker := &MemoryBroker{
		env:    env,
		clock:  systemClock{},
		queues: make(map[string][]Task),
	}
	for _, opt := range opts {
		opt(broker)
	}
	return broker
}

// QualifiedName returns the namespaced queue name for an environment.
func QualifiedName(env, queue string) string {
	if env == "" {
		return queue
	}
	return env + "." + queue
}

// Enqueue appends the task to its namespaced queue.
func (b *MemoryBroker) Enqueue(ctx context.Context, task Task) error {
	if b == nil {
		return errors.New("broker: nil broker")
	}
	if task.Queue == "" {
		return errors.New("broker: task without queue")
	}
	if task.ID == "" {
		task.ID = NewTaskID()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = b.clock.Now()
	}
	name := QualifiedName(b.env, task.Queue)

	b.mu.Lock()
	b.queues[name] = append(b.queues[name], task)
	depth := len(b.queues[name])
	b.mu.Unlock()

	metrics.SetQueueDepth(name, depth)
	return nil
}

// Dequeue pops the oldest task whose NotBefore has passed.
func (b *MemoryBroker) Dequeue(ctx context.Context, queue string) (Task, error) {
	if b == nil {
		return Task{}, errors.New("broker: nil broker")
	}
	name := QualifiedName(b.env, queue)
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	tasks := b.queues[name]
	for i, task := range tasks {
		if task.NotBefore.After(now) {
			continue
		}
		b.queues[name] = append(tasks[:i:i], tasks[i+1:]...)
		metrics.SetQueueDepth(name, len(b.queues[name]))
		return task, nil
	}
	return Task{}, ErrEmpty
}

// Ack is a no-op for the in-memory broker: Dequeue already removed the task.
func (b *MemoryBroker) Ack(ctx context.Context, task Task) error {
	return nil
}

// Nack re-enqueues the task with an incremented attempt count and a delay.
func (b *MemoryBroker) Nack(ctx context.Context, task Task, delay time.Duration) error {
	if b == nil {
		return errors.New("broker: nil broker")
	}
	task.Attempt++
	task.NotBefore = b.clock.Now().Add(delay)
	return b.Enqueue(ctx, task)
}

// DeadLetter parks the task permanently.
func (b *MemoryBroker) DeadLetter(ctx context.Context, task Task, reason string) error {
	if b == nil {
		return errors.New("broker: nil broker")
	}
	b.mu.Lock()
	b.dead = append(b.dead, DeadLetter{Task: task, Reason: reason, FailedAt: b.clock.Now()})
	b.mu.Unlock()
	metrics.IncDeadLetter(task.Channel)
	return nil
}

// DeadLetters returns a copy of the parked tasks, oldest first.
func (b *MemoryBroker) DeadLetters() []DeadLetter {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadLetter, len(b.dead))
	copy(out, b.dead)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out
}

// Depth reports the number of pending tasks in a queue.
func (b *MemoryBroker) Depth(queue string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[QualifiedName(b.env, queue)])
}

// NewTaskID returns a random 16-byte hex identifier.
func NewTaskID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return hex.EncodeToString([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(buf[:])
}
