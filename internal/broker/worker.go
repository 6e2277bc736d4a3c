package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Handler processes a dequeued task. Returning a *PermanentError sends the
// task straight to the dead letter queue; any other error triggers a retry.
type Handler func(ctx context.Context, task Task) error

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent failure"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Backoff computes retry delays: Base doubling per attempt, capped at Max.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff is the worker retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Second, Max: 5 * time.Minute, Multiplier: 2}
}

// Delay returns the wait before the given retry attempt (first retry is 1).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 5 * time.Second
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Worker polls a queue and runs a handler with retry and dead letter
// semantics.
type Worker struct {
	queue    Queue
	name     string
	handler  Handler
	backoff  Backoff
	interval time.Duration
	timeout  time.Duration
	attempts int
	log      *log.Logger
}

// WorkerOption configures a worker.
type WorkerOption func(*Worker)

// WithBackoff overrides the retry schedule.
func WithBackoff(backoff Backoff) WorkerOption {
	return func(w *Worker) { w.backoff = backoff }
}

// WithPollInterval overrides the idle poll interval.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithAttemptTimeout bounds a single handler invocation. A delivery that
// exceeds it fails with context.DeadlineExceeded and is retried, so one hung
// endpoint cannot stall the queue.
func WithAttemptTimeout(timeout time.Duration) WorkerOption {
	return func(w *Worker) {
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// WithMaxAttempts sets the default attempt budget for tasks that carry none.
func WithMaxAttempts(attempts int) WorkerOption {
	return func(w *Worker) {
		if attempts > 0 {
			w.attempts = attempts
		}
	}
}

// WithWorkerLogger overrides the logger.
func WithWorkerLogger(logger *log.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.log = logger
		}
	}
}

// NewWorker constructs a worker for the named queue.
func NewWorker(queue Queue, name string, handler Handler, opts ...WorkerOption) *Worker {
	worker := &Worker{
		queue:    queue,
		name:     name,
		handler:  handler,
		backoff:  DefaultBackoff(),
		interval: time.Second,
		timeout:  30 * time.Second,
		attempts: 5,
		log:      log.Default(),
	}
	for _, opt := range opts {
		opt(worker)
	}
	return worker
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.queue == nil || w.handler == nil {
		return errors.New("broker: worker not configured")
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Printf("worker queue=%s drain error: %v", w.name, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain processes ready tasks until the queue reports empty.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, err := w.queue.Dequeue(ctx, w.name)
		if errors.Is(err, ErrEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task Task) {
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.attempts
	}

	handlerCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	err := w.handler(handlerCtx, task)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, task); ackErr != nil {
			w.log.Printf("worker queue=%s task=%s ack error: %v", w.name, task.ID, ackErr)
		}
		return
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		w.toDeadLetter(ctx, task, fmt.Sprintf("permanent: %v", err))
		return
	}

	// Attempt numbering starts at 0 for the first delivery.
	if task.Attempt+1 >= maxAttempts {
		w.toDeadLetter(ctx, task, fmt.Sprintf("attempts exhausted (%d): %v", maxAttempts, err))
		return
	}

	delay := w.backoff.Delay(task.Attempt + 1)
	w.log.Printf("worker queue=%s task=%s attempt=%d retry_in=%s error: %v",
		w.name, task.ID, task.Attempt+1, delay, err)
	if nackErr := w.queue.Nack(ctx, task, delay); nackErr != nil {
		w.log.Printf("worker queue=%s task=%s nack error: %v", w.name, task.ID, nackErr)
	}
}

func (w *Worker) toDeadLetter(ctx context.Context, task Task, reason string) {
	w.log.Printf("worker queue=%s task=%s dead letter: %s", w.name, task.ID, reason)
	if err := w.queue.DeadLetter(ctx, task, reason); err != nil {
		w.log.Printf("worker queue=%s task=%s dead letter store error: %v", w.name, task.ID, err)
	}
}
