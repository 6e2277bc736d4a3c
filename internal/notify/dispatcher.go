package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"observatory-ops/internal/alerts"
	"observatory-ops/internal/broker"
	"observatory-ops/internal/observability/metrics"
)

// Decision is the outcome of a notification request.
type Decision string

const (
	// DecisionQueued means delivery tasks were enqueued for every routed
	// channel.
	DecisionQueued Decision = "queued"
	// DecisionSuppressed means an equal-or-higher severity notification
	// for the same alert was delivered inside the dedup window.
	DecisionSuppressed Decision = "suppressed"
)

// DefaultQueue is the broker queue notifications travel on.
const DefaultQueue = "notifications"

// DefaultSuppressionWindow is how long a delivered notification mutes
// repeats of the same alert at the same or lower severity.
const DefaultSuppressionWindow = 15 * time.Minute

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Dispatcher routes alerts to channels with dedup suppression. Delivery is
// asynchronous: Notify only enqueues tasks, the worker performs the sends.
type Dispatcher struct {
	queue       broker.Queue
	records     RecordStore
	clock       Clock
	log         *log.Logger
	window      time.Duration
	queueName   string
	maxAttempts int
	routes      map[alerts.Severity][]string
	recipients  map[string][]string
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSuppressionWindow overrides the dedup window.
func WithSuppressionWindow(window time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithRoutes replaces the severity-to-channel routing table.
func WithRoutes(routes map[alerts.Severity][]string) DispatcherOption {
	return func(d *Dispatcher) {
		if len(routes) > 0 {
			d.routes = routes
		}
	}
}

// WithRecipients sets per-channel recipient lists.
func WithRecipients(recipients map[string][]string) DispatcherOption {
	return func(d *Dispatcher) { d.recipients = recipients }
}

// WithQueueName overrides the broker queue.
func WithQueueName(name string) DispatcherOption {
	return func(d *Dispatcher) {
		if name != "" {
			d.queueName = name
		}
	}
}

// WithMaxAttempts sets the delivery attempt budget per task.
func WithMaxAttempts(attempts int) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
	}
}

// WithDispatcherClock overrides the clock.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDispatcherLogger overrides the logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.log = logger
		}
	}
}

// DefaultRoutes maps severities to channel names: everything reaches chat,
// critical additionally goes to email.
func DefaultRoutes() map[alerts.Severity][]string {
	return map[alerts.Severity][]string{
		alerts.SeverityInfo:     {"chat"},
		alerts.SeverityWarning:  {"chat"},
		alerts.SeverityCritical: {"chat", "email"},
	}
}

// NewDispatcher constructs a dispatcher over a broker queue and record
// store.
func NewDispatcher(queue broker.Queue, records RecordStore, opts ...DispatcherOption) (*Dispatcher, error) {
	if queue == nil {
		return nil, errors.New("dispatcher: nil queue")
	}
	if records == nil {
		return nil, errors.New("dispatcher: nil record store")
	}
	dispatcher := &Dispatcher{
		queue:       queue,
		records:     records,
		clock:       systemClock{},
		log:         log.Default(),
		window:      DefaultSuppressionWindow,
		queueName:   DefaultQueue,
		maxAttempts: 5,
		routes:      DefaultRoutes(),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// NotifyOption adjusts a single notification request.
type NotifyOption func(*notifyRequest)

type notifyRequest struct {
	level alerts.Severity
	group string
	force bool
}

// WithLevel overrides the severity derived from the alert.
func WithLevel(level alerts.Severity) NotifyOption {
	return func(r *notifyRequest) {
		if level.Valid() {
			r.level = level
		}
	}
}

// WithGroup scopes dedup to a logical group such as an instrument name.
func WithGroup(group string) NotifyOption {
	return func(r *notifyRequest) { r.group = group }
}

// WithForce bypasses dedup suppression.
func WithForce() NotifyOption {
	return func(r *notifyRequest) { r.force = true }
}

// Notify routes the alert to its channels unless a recent delivery at
// equal or higher severity suppresses it. A higher severity than the
// recorded one always goes through: escalations are never muted.
func (d *Dispatcher) Notify(ctx context.Context, alert alerts.Alert, opts ...NotifyOption) (Decision, error) {
	if d == nil {
		return "", errors.New("dispatcher: nil dispatcher")
	}
	if alert.Name == "" {
		return "", errors.New("dispatcher: alert without name")
	}
	request := notifyRequest{level: alert.Severity}
	for _, opt := range opts {
		opt(&request)
	}
	if !request.level.Valid() {
		return "", fmt.Errorf("dispatcher: invalid level %q", request.level)
	}

	if !request.force {
		suppressed, err := d.isSuppressed(ctx, alert.Name, request.group, request.level)
		if err != nil {
			// A broken record store must not mute alerts.
			d.log.Printf("dispatcher alert=%s dedup lookup failed, delivering: %v", alert.Name, err)
		} else if suppressed {
			metrics.IncNotifyDecision(string(DecisionSuppressed))
			return DecisionSuppressed, nil
		}
	}

	channels := d.routes[request.level]
	if len(channels) == 0 {
		return "", fmt.Errorf("dispatcher: no channels routed for level %s", request.level)
	}
	now := d.clock.Now()
	for _, name := range channels {
		payload := Payload{
			Channel:    name,
			Recipients: d.recipients[name],
			Subject:    fmt.Sprintf("[%s] %s", request.level, alert.Name),
			Body:       alert.Message,
			Level:      request.level,
			AlertName:  alert.Name,
			Group:      request.group,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("dispatcher: encode payload: %w", err)
		}
		task := broker.Task{
			ID:          broker.NewTaskID(),
			Queue:       d.queueName,
			Channel:     name,
			Payload:     body,
			MaxAttempts: d.maxAttempts,
			EnqueuedAt:  now,
		}
		if err := d.queue.Enqueue(ctx, task); err != nil {
			return "", fmt.Errorf("dispatcher: enqueue for %s: %w", name, err)
		}
	}
	metrics.IncNotifyDecision(string(DecisionQueued))
	return DecisionQueued, nil
}

func (d *Dispatcher) isSuppressed(ctx context.Context, name, group string, level alerts.Severity) (bool, error) {
	record, err := d.records.Latest(ctx, name, group)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	age := d.clock.Now().Sub(record.SentAt)
	if age >= d.window {
		return false, nil
	}
	// An escalation above the recorded severity always goes out.
	return level.Rank() <= record.Severity.Rank(), nil
}

// DeliveryHandler executes queued notification tasks against real channels
// and writes the delivery record on success.
type DeliveryHandler struct {
	channels map[string]Channel
	records  RecordStore
	clock    Clock
	log      *log.Logger
}

// HandlerOption configures the delivery handler.
type HandlerOption func(*DeliveryHandler)

// WithHandlerClock overrides the clock.
func WithHandlerClock(clock Clock) HandlerOption {
	return func(h *DeliveryHandler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHandlerLogger overrides the logger.
func WithHandlerLogger(logger *log.Logger) HandlerOption {
	return func(h *DeliveryHandler) {
		if logger != nil {
			h.log = logger
		}
	}
}

// NewDeliveryHandler constructs a handler over the given channels.
func NewDeliveryHandler(channels []Channel, records RecordStore, opts ...HandlerOption) (*DeliveryHandler, error) {
	if records == nil {
		return nil, errors.New("delivery handler: nil record store")
	}
	byName := make(map[string]Channel, len(channels))
	for _, channel := range channels {
		if channel == nil || channel.Name() == "" {
			return nil, errors.New("delivery handler: unnamed channel")
		}
		byName[channel.Name()] = channel
	}
	handler := &DeliveryHandler{
		channels: byName,
		records:  records,
		clock:    systemClock{},
		log:      log.Default(),
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler, nil
}

// Handle implements broker.Handler for notification tasks.
func (h *DeliveryHandler) Handle(ctx context.Context, task broker.Task) error {
	if h == nil {
		return broker.Permanent(errors.New("delivery handler: nil handler"))
	}
	var payload Payload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return broker.Permanent(fmt.Errorf("delivery handler: decode payload: %w", err))
	}
	channel, ok := h.channels[payload.Channel]
	if !ok {
		return broker.Permanent(fmt.Errorf("delivery handler: unknown channel %q", payload.Channel))
	}

	start := h.clock.Now()
	err := channel.Send(ctx, payload)
	metrics.ObserveDelivery(payload.Channel, err, time.Since(start))
	if err != nil {
		return err
	}

	record := NotificationRecord{
		AlertName: payload.AlertName,
		Severity:  payload.Level,
		Channel:   payload.Channel,
		Group:     payload.Group,
		DedupKey:  DedupKeyFor(payload.AlertName, payload.Level, payload.Group),
		SentAt:    h.clock.Now(),
	}
	if err := h.records.Insert(ctx, record); err != nil {
		// The message reached the channel; retrying would duplicate it.
		h.log.Printf("delivery handler alert=%s channel=%s record insert failed: %v",
			payload.AlertName, payload.Channel, err)
	}
	return nil
}
