package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "obsops_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	cacheOps *prometheus.CounterVec

	fetchTotal   *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	evaluationsTotal  *prometheus.CounterVec
	evaluationLatency prometheus.Histogram
	alertsRaised      *prometheus.CounterVec

	notifyDecisions *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	deadLetters     *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec
)

// Init registers the observability metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		cacheOps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_ops_total",
				Help: "Total cache lookups by result",
			},
			[]string{"result"},
		)

		fetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_fetch_total",
				Help: "Total telemetry fetches by source and result",
			},
			[]string{"source", "result"},
		)
		fetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "telemetry_fetch_latency_seconds",
				Help:    "Telemetry fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)

		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_evaluations_total",
				Help: "Total alert evaluations by result",
			},
			[]string{"result"},
		)
		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_evaluation_latency_seconds",
				Help:    "Alert evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		alertsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_raised_total",
				Help: "Total alerts raised by name and severity",
			},
			[]string{"name", "severity"},
		)

		notifyDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_decisions_total",
				Help: "Total notification decisions by outcome",
			},
			[]string{"decision"},
		)
		deliveriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "deliveries_total",
				Help: "Total delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		)
		deliveryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "delivery_latency_seconds",
				Help:    "Delivery attempt latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		)
		deadLetters = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dead_letters_total",
				Help: "Total dead-lettered delivery tasks by channel",
			},
			[]string{"channel"},
		)

		queueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "queue_depth",
				Help: "Pending tasks per queue",
			},
			[]string{"queue"},
		)

		prometheus.MustRegister(
			cacheOps,
			fetchTotal,
			fetchLatency,
			evaluationsTotal,
			evaluationLatency,
			alertsRaised,
			notifyDecisions,
			deliveriesTotal,
			deliveryLatency,
			deadLetters,
			queueDepth,
		)
	})
}

// IncCacheOp increments the cache op counter. Result is one of
// hit, miss, shared, error.
func IncCacheOp(result string) {
	if result == "" {
		result = "miss"
	}
	if cacheOps != nil {
		cacheOps.WithLabelValues(result).Inc()
	}
}

// ObserveFetch records a telemetry fetch result and duration.
func ObserveFetch(source string, err error, duration time.Duration) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if fetchTotal != nil {
		fetchTotal.WithLabelValues(source, result).Inc()
	}
	if fetchLatency != nil {
		fetchLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// ObserveEvaluation records an alert evaluation pass.
func ObserveEvaluation(err error, duration time.Duration) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if evaluationsTotal != nil {
		evaluationsTotal.WithLabelValues(result).Inc()
	}
	if evaluationLatency != nil {
		evaluationLatency.Observe(duration.Seconds())
	}
}

// IncAlertRaised increments the raised alert counter.
func IncAlertRaised(name, severity string) {
	if name == "" {
		return
	}
	if alertsRaised != nil {
		alertsRaised.WithLabelValues(name, severity).Inc()
	}
}

// IncNotifyDecision increments the dispatch decision counter.
func IncNotifyDecision(decision string) {
	if decision == "" {
		decision = "unknown"
	}
	if notifyDecisions != nil {
		notifyDecisions.WithLabelValues(decision).Inc()
	}
}

// ObserveDelivery records a delivery attempt result and duration.
func ObserveDelivery(channel string, err error, duration time.Duration) {
	if channel == "" {
		channel = "unknown"
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if deliveriesTotal != nil {
		deliveriesTotal.WithLabelValues(channel, result).Inc()
	}
	if deliveryLatency != nil {
		deliveryLatency.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// IncDeadLetter increments the dead letter counter.
func IncDeadLetter(channel string) {
	if channel == "" {
		channel = "unknown"
	}
	if deadLetters != nil {
		deadLetters.WithLabelValues(channel).Inc()
	}
}

// SetQueueDepth sets the pending task gauge for a queue.
func SetQueueDepth(queue string, depth int) {
	if queue == "" {
		return
	}
	if depth < 0 {
		depth = 0
	}
	if queueDepth != nil {
		queueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}
