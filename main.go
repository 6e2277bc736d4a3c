package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"observatory-ops/internal/alerts"
	"observatory-ops/internal/broker"
	brokerpostgres "observatory-ops/internal/broker/infrastructure/postgres"
	"observatory-ops/internal/cache"
	"observatory-ops/internal/config"
	"observatory-ops/internal/ephemeris"
	apihttp "observatory-ops/internal/interfaces/http"
	"observatory-ops/internal/monitor"
	"observatory-ops/internal/nightmetrics"
	nightpostgres "observatory-ops/internal/nightmetrics/infrastructure/postgres"
	"observatory-ops/internal/notify"
	notifypostgres "observatory-ops/internal/notify/infrastructure/postgres"
	"observatory-ops/internal/observability/metrics"
	"observatory-ops/internal/report"
	"observatory-ops/internal/telemetry/fetchers"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("OBSOPS_DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	weatherFetcher, err := fetchers.NewWeatherFetcher(cfg.Weather.URL, cfg.Weather.Station,
		fetchers.WithWeatherMaxAge(cfg.Weather.MaxAge.Std()))
	if err != nil {
		logger.Fatalf("weather fetcher error: %v", err)
	}
	probes := make([]fetchers.Probe, 0, len(cfg.Probes))
	for _, probe := range cfg.Probes {
		probes = append(probes, fetchers.Probe{Name: probe.Name, Address: probe.Address})
	}
	connectivityFetcher, err := fetchers.NewConnectivityFetcher(probes)
	if err != nil {
		logger.Fatalf("connectivity fetcher error: %v", err)
	}
	enclosureFetcher, err := fetchers.NewEnclosureFetcher(cfg.EnclosureURL)
	if err != nil {
		logger.Fatalf("enclosure fetcher error: %v", err)
	}
	actorsFetcher, err := fetchers.NewActorsFetcher(cfg.ActorsURL)
	if err != nil {
		logger.Fatalf("actors fetcher error: %v", err)
	}
	fetcherList := []fetchers.Fetcher{weatherFetcher, connectivityFetcher, enclosureFetcher, actorsFetcher}

	evaluator, err := alerts.NewEvaluator(cfg.Thresholds)
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}

	queue := broker.NewMemoryBroker(cfg.Env)
	deadLetterStore := brokerpostgres.NewDeadLetterStore(db)
	recordedQueue := newRecordedQueue(queue, deadLetterStore, logger)

	recordStore := notifypostgres.NewRecordStore(db)
	dispatcher, err := notify.NewDispatcher(recordedQueue, recordStore,
		notify.WithSuppressionWindow(cfg.Notify.SuppressionWindow.Std()),
		notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
		notify.WithRecipients(map[string][]string{"email": cfg.Notify.EmailRecipients}),
		notify.WithDispatcherLogger(logger),
	)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}

	var channels []notify.Channel
	var emailChannel notify.Channel
	if cfg.Notify.WebhookURL != "" {
		chat, err := notify.NewWebhookChannel("chat", cfg.Notify.WebhookURL)
		if err != nil {
			logger.Fatalf("chat channel error: %v", err)
		}
		channels = append(channels, chat)
	}
	if cfg.Notify.SMTPAddr != "" {
		email, err := notify.NewSMTPChannel("email", cfg.Notify.SMTPAddr, cfg.Notify.SMTPFrom)
		if err != nil {
			logger.Fatalf("email channel error: %v", err)
		}
		channels = append(channels, email)
		emailChannel = email
	}
	deliveryHandler, err := notify.NewDeliveryHandler(channels, recordStore,
		notify.WithHandlerLogger(logger))
	if err != nil {
		logger.Fatalf("delivery handler error: %v", err)
	}
	worker := broker.NewWorker(recordedQueue, notify.DefaultQueue, deliveryHandler.Handle,
		broker.WithBackoff(broker.Backoff{
			Base:       cfg.Notify.BackoffBase.Std(),
			Max:        cfg.Notify.BackoffMax.Std(),
			Multiplier: 2,
		}),
		broker.WithAttemptTimeout(cfg.Notify.AttemptTimeout.Std()),
		broker.WithMaxAttempts(cfg.Notify.MaxAttempts),
		broker.WithWorkerLogger(logger),
	)

	var ephSource ephemeris.Source = ephemeris.Computed{}
	if cfg.EphemerisTable != "" {
		tableSource, err := ephemeris.NewTableSource(cfg.EphemerisTable,
			ephemeris.WithFallback(ephemeris.Computed{}))
		if err != nil {
			logger.Fatalf("ephemeris table error: %v", err)
		}
		ephSource = tableSource
	}
	exposureStore := nightpostgres.NewExposureRepository(db)
	engine, err := nightmetrics.NewEngine(exposureStore, ephSource,
		nightmetrics.WithLogger(logger),
		nightmetrics.WithOverheads(cfg.ReadoutOverhead, cfg.NominalOverhead),
	)
	if err != nil {
		logger.Fatalf("night metrics engine error: %v", err)
	}
	builder, err := report.NewBuilder(engine, exposureStore)
	if err != nil {
		logger.Fatalf("report builder error: %v", err)
	}

	telemetryCache := cache.New()
	mon, err := monitor.New(telemetryCache, fetcherList, evaluator, dispatcher,
		monitor.WithInterval(cfg.MonitorInterval.Std()),
		monitor.WithCacheTTL(cfg.TelemetryTTL.Std()),
		monitor.WithNotifyAt(cfg.NotifyAt),
		monitor.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("monitor error: %v", err)
	}

	// The handler shares the telemetry cache so DELETE /api/cache drops
	// cached snapshots too; key prefixes keep the entries apart.
	apiOpts := []apihttp.Option{apihttp.WithLogger(logger)}
	if emailChannel != nil {
		apiOpts = append(apiOpts, apihttp.WithEmailChannel(emailChannel, cfg.Notify.EmailRecipients))
	}
	apiHandler, err := apihttp.NewHandler(mon, engine, builder, dispatcher, telemetryCache, apiOpts...)
	if err != nil {
		logger.Fatalf("api handler error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("monitor stopped: %v", err)
		}
	}()
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("worker stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	apiHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s env=%s", cfg.HTTPAddr, cfg.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http server error: %v", err)
	}
}

// recordedQueue persists dead letters to Postgres alongside the in-memory
// broker so they survive restarts.
type recordedQueue struct {
	broker.Queue
	store  *brokerpostgres.DeadLetterStore
	logger *log.Logger
}

func newRecordedQueue(queue broker.Queue, store *brokerpostgres.DeadLetterStore, logger *log.Logger) *recordedQueue {
	return &recordedQueue{Queue: queue, store: store, logger: logger}
}

func (q *recordedQueue) DeadLetter(ctx context.Context, task broker.Task, reason string) error {
	if err := q.store.Record(ctx, broker.DeadLetter{
		Task:     task,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}); err != nil {
		q.logger.Printf("dead letter persist error task=%s: %v", task.ID, err)
	}
	return q.Queue.DeadLetter(ctx, task, reason)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
