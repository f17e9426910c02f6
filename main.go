package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greenledger/internal/auth"
	complianceapp "greenledger/internal/compliance/application"
	compliance "greenledger/internal/compliance/domain"
	"greenledger/internal/compliance/infrastructure/memory"
	compliancepg "greenledger/internal/compliance/infrastructure/postgres"
	compliancehttp "greenledger/internal/compliance/interfaces/http"
	"greenledger/internal/compliance/notify"
	"greenledger/internal/config"
	"greenledger/internal/observability/metrics"
	"greenledger/internal/outputs"
	"greenledger/internal/streaming"
	"greenledger/internal/streaming/window"
	"greenledger/internal/telemetry/interfaces/ingest"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, window.ErrInvalidSpec) {
			logger.Fatalf("invalid window configuration, refusing to start: %v", err)
		}
		logger.Fatalf("config error: %v", err)
	}

	metrics.Init()

	bus := outputs.NewBus(logger)

	specs, err := cfg.WindowSpecs()
	if err != nil {
		logger.Fatalf("window specs error: %v", err)
	}

	engine, err := streaming.NewEngine(specs, bus,
		streaming.WithPartitions(cfg.Partitions),
		streaming.WithRetention(cfg.Retention.Std()),
	)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}

	service, err := complianceapp.NewService(cfg.Rules(), specs, bus,
		complianceapp.WithScoreFunc(cfg.ScoreFunc()),
		complianceapp.WithSpikeExcludeCurrent(cfg.SpikeExcludeCurrent),
		complianceapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("compliance service error: %v", err)
	}
	service.Register(bus)

	store := memory.NewStore()
	outputs.SubscribeTo(bus, "store.violations", store.HandleViolation)
	outputs.SubscribeTo(bus, "store.scores", store.HandleScore)

	broker := compliancehttp.NewSSEBroker()
	outputs.SubscribeTo(bus, "sse.violations", broker.HandleViolation)

	if cfg.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		tpl, err := notify.NewTemplate("")
		if err != nil {
			logger.Fatalf("notify template error: %v", err)
		}
		notifier, err := notify.NewNotifier(channel, tpl,
			notify.WithMinSeverity(compliance.Severity(cfg.NotifyMinSeverity)),
			notify.WithCooldown(cfg.NotifyCooldown.Std()),
		)
		if err != nil {
			logger.Fatalf("notifier error: %v", err)
		}
		outputs.SubscribeTo(bus, "notify.webhook", notifier.HandleViolation)
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		violationRepo := compliancepg.NewViolationRepository(db)
		aggregateRepo := compliancepg.NewAggregateRepository(db)
		outputs.SubscribeTo(bus, "pg.violations", violationRepo.Insert)
		outputs.SubscribeTo(bus, "pg.aggregates", aggregateRepo.InsertClosed)
	}

	if cfg.EmitStdout {
		sink, err := outputs.NewNDJSONSink(os.Stdout)
		if err != nil {
			logger.Fatalf("ndjson sink error: %v", err)
		}
		bus.Subscribe(outputs.RecordTypeOf[streaming.WindowUpdated](), "ndjson.updates", sink.Handle)
		bus.Subscribe(outputs.RecordTypeOf[streaming.WindowClosed](), "ndjson.closes", sink.Handle)
		bus.Subscribe(outputs.RecordTypeOf[compliance.Violation](), "ndjson.violations", sink.Handle)
		bus.Subscribe(outputs.RecordTypeOf[compliance.Score](), "ndjson.scores", sink.Handle)
	}

	if err := engine.Start(); err != nil {
		logger.Fatalf("engine start error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stdinDone chan struct{}
	if cfg.IngestStdin {
		reader, err := ingest.NewStdinReader(os.Stdin, engine, logger)
		if err != nil {
			logger.Fatalf("stdin reader error: %v", err)
		}
		stdinDone = make(chan struct{})
		go func() {
			defer close(stdinDone)
			if err := reader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("stdin reader error: %v", err)
			}
		}()
	}

	ingestHandler, err := ingest.NewHandler(engine, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	apiHandler, err := compliancehttp.NewHandler(store, engine)
	if err != nil {
		logger.Fatalf("api handler error: %v", err)
	}
	exportHandler, err := compliancehttp.NewExportHandler(store)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	var ingestEndpoint http.Handler = ingestHandler
	if cfg.IngestSecret != "" {
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), 5*time.Minute)
		ingestEndpoint = ingestAuth.Wrap(ingestHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/ingest/readings", ingestEndpoint)
	mux.Handle("/api/v1/violations", apiHandler)
	mux.Handle("/api/v1/violations/stream", compliancehttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/scores", apiHandler)
	mux.Handle("/api/v1/aggregates", apiHandler)
	mux.Handle("/api/v1/exports/", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var root http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
		root = auth.NewMiddleware([]byte(cfg.JWTSecret), policy).Wrap(mux)
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(root, logger)}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}

	// The stdin reader must stop feeding the engine before Stop closes
	// the partition channels. A scanner blocked on a quiet pipe cannot be
	// interrupted, so the wait is bounded; a late Process after Stop gets
	// ErrNotRunning.
	if stdinDone != nil {
		select {
		case <-stdinDone:
		case <-time.After(2 * time.Second):
			logger.Printf("stdin reader still draining; closing windows")
		}
	}

	// Flushes every open window as closed before exit.
	engine.Stop()
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

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
