package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"observatory-ops/internal/alerts"
	"observatory-ops/internal/cache"
	"observatory-ops/internal/ephemeris"
	"observatory-ops/internal/monitor"
	"observatory-ops/internal/nightmetrics"
	"observatory-ops/internal/notify"
	"observatory-ops/internal/report"
)

// Notifier is the dispatch surface the handler needs.
type Notifier interface {
	Notify(ctx context.Context, alert alerts.Alert, opts ...notify.NotifyOption) (notify.Decision, error)
}

// Handler serves the operations API.
type Handler struct {
	monitor         *monitor.Monitor
	engine          *nightmetrics.Engine
	builder         *report.Builder
	dispatcher      Notifier
	cache           *cache.Cache
	emailChannel    notify.Channel
	emailRecipients []string
	clock           Clock
	log             *log.Logger
	alertsTTL       time.Duration
	metricsTTL      time.Duration
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures the handler.
type Option func(*Handler)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithEmailChannel enables mailing night report summaries through the given
// channel. Recipients are the default when a request names none.
func WithEmailChannel(channel notify.Channel, recipients []string) Option {
	return func(h *Handler) {
		h.emailChannel = channel
		h.emailRecipients = recipients
	}
}

// WithAlertsTTL overrides how long alert summaries are served from cache.
func WithAlertsTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.alertsTTL = ttl
		}
	}
}

// WithMetricsTTL overrides how long night metrics are served from cache.
func WithMetricsTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.metricsTTL = ttl
		}
	}
}

// NewHandler constructs the API handler.
func NewHandler(mon *monitor.Monitor, engine *nightmetrics.Engine, builder *report.Builder, dispatcher Notifier, responseCache *cache.Cache, opts ...Option) (*Handler, error) {
	if mon == nil {
		return nil, errors.New("api handler: nil monitor")
	}
	if engine == nil {
		return nil, errors.New("api handler: nil engine")
	}
	if responseCache == nil {
		return nil, errors.New("api handler: nil cache")
	}
	handler := &Handler{
		monitor:    mon,
		engine:     engine,
		builder:    builder,
		dispatcher: dispatcher,
		cache:      responseCache,
		clock:      systemClock{},
		log:        log.Default(),
		alertsTTL:  10 * time.Second,
		metricsTTL: time.Minute,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler, nil
}

// Register mounts the API routes on a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/alerts", h)
	mux.Handle("/api/logs/night-metrics", h)
	mux.Handle("/api/logs/night-report", h)
	mux.Handle("/api/logs/night-report/email", h)
	mux.Handle("/api/notifications", h)
	mux.Handle("/api/cache", h)
	mux.Handle("/api/cache/", h)
}

// ServeHTTP dispatches API routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/alerts" && r.Method == http.MethodGet:
		h.handleAlerts(w, r)
	case path == "/api/logs/night-metrics" && r.Method == http.MethodGet:
		h.handleNightMetrics(w, r)
	case path == "/api/logs/night-report" && r.Method == http.MethodGet:
		h.handleNightReport(w, r)
	case path == "/api/logs/night-report/email" && r.Method == http.MethodPost:
		h.handleNightReportEmail(w, r)
	case path == "/api/notifications" && r.Method == http.MethodPost:
		h.handleNotify(w, r)
	case strings.HasPrefix(path, "/api/cache") && r.Method == http.MethodDelete:
		h.handleCacheDelete(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type alertsResponse struct {
	EvaluatedAt time.Time      `json:"evaluated_at"`
	Alerts      []alerts.Alert `json:"alerts"`
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	value, err := h.cache.GetOrCompute(r.Context(), "api:alerts", h.alertsTTL, func(ctx context.Context) (any, error) {
		_, raised, err := h.monitor.Summary(ctx)
		if err != nil {
			return nil, err
		}
		if raised == nil {
			raised = []alerts.Alert{}
		}
		return alertsResponse{EvaluatedAt: h.clock.Now(), Alerts: raised}, nil
	})
	if err != nil {
		h.log.Printf("api alerts: %v", err)
		http.Error(w, "alert evaluation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, value)
}

func (h *Handler) sjdParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("sjd")
	if raw == "" {
		return ephemeris.CurrentSJD(h.clock.Now()), nil
	}
	sjd, err := strconv.Atoi(raw)
	if err != nil || sjd <= 0 {
		return 0, fmt.Errorf("invalid sjd %q", raw)
	}
	return sjd, nil
}

func (h *Handler) handleNightMetrics(w http.ResponseWriter, r *http.Request) {
	sjd, err := h.sjdParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := fmt.Sprintf("api:night-metrics:%d", sjd)
	value, err := h.cache.GetOrCompute(r.Context(), key, h.metricsTTL, func(ctx context.Context) (any, error) {
		return h.engine.Compute(ctx, sjd)
	})
	if err != nil {
		respondMetricsError(w, err)
		return
	}
	writeJSON(w, value)
}

func (h *Handler) handleNightReport(w http.ResponseWriter, r *http.Request) {
	if h.builder == nil {
		http.Error(w, "reports disabled", http.StatusNotImplemented)
		return
	}
	sjd, err := h.sjdParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}

	night, err := h.builder.Build(r.Context(), sjd)
	if err != nil {
		respondMetricsError(w, err)
		return
	}
	switch format {
	case "pdf":
		data, err := report.BuildNightPDF(night)
		if err != nil {
			h.log.Printf("api night report pdf sjd=%d: %v", sjd, err)
			http.Error(w, "report rendering failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=night_%d.pdf", sjd))
		_, _ = w.Write(data)
	case "xlsx":
		data, err := report.BuildNightXLSX(night)
		if err != nil {
			h.log.Printf("api night report xlsx sjd=%d: %v", sjd, err)
			http.Error(w, "report rendering failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=night_%d.xlsx", sjd))
		_, _ = w.Write(data)
	default:
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
	}
}

func (h *Handler) handleNightReportEmail(w http.ResponseWriter, r *http.Request) {
	if h.builder == nil || h.emailChannel == nil {
		http.Error(w, "report email disabled", http.StatusNotImplemented)
		return
	}
	sjd, err := h.sjdParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipients := h.emailRecipients
	if r.ContentLength > 0 {
		var req struct {
			Recipients []string `json:"recipients"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if len(req.Recipients) > 0 {
			recipients = req.Recipients
		}
	}
	if len(recipients) == 0 {
		http.Error(w, "no recipients configured", http.StatusBadRequest)
		return
	}

	night, err := h.builder.Build(r.Context(), sjd)
	if err != nil {
		respondMetricsError(w, err)
		return
	}
	if err := report.Email(r.Context(), h.emailChannel, recipients, night); err != nil {
		h.log.Printf("api night report email sjd=%d: %v", sjd, err)
		http.Error(w, "report email failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"status": "sent", "sjd": sjd, "recipients": len(recipients)})
}

func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		http.Error(w, "notifications disabled", http.StatusNotImplemented)
		return
	}
	var req struct {
		AlertName string `json:"alert_name"`
		Message   string `json:"message"`
		Level     string `json:"level"`
		Group     string `json:"group"`
		Force     bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.AlertName == "" {
		http.Error(w, "alert_name is required", http.StatusBadRequest)
		return
	}
	level := alerts.Severity(req.Level)
	if req.Level == "" {
		level = alerts.SeverityInfo
	}
	if !level.Valid() {
		http.Error(w, fmt.Sprintf("invalid level %q", req.Level), http.StatusBadRequest)
		return
	}

	alert := alerts.Alert{
		Name:     req.AlertName,
		Severity: level,
		Message:  req.Message,
		RaisedAt: h.clock.Now(),
	}
	opts := []notify.NotifyOption{notify.WithGroup(req.Group)}
	if req.Force {
		opts = append(opts, notify.WithForce())
	}
	decision, err := h.dispatcher.Notify(r.Context(), alert, opts...)
	if err != nil {
		h.log.Printf("api notify alert=%s: %v", req.AlertName, err)
		http.Error(w, "notification failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"decision": decision})
}

func (h *Handler) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/cache")
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		h.cache.InvalidateAll()
	} else {
		h.cache.Invalidate(key)
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondMetricsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ephemeris.ErrUnknownNight):
		http.Error(w, "unknown night", http.StatusNotFound)
	case errors.Is(err, nightmetrics.ErrDataUnavailable):
		http.Error(w, "night data unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
