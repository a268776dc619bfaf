package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aeroinsight/internal/audit"
	identityservice "aeroinsight/internal/identity/service"
	identitystore "aeroinsight/internal/identity/store"
	jwttoken "aeroinsight/internal/jwt_token"
	"aeroinsight/internal/platform/config"
	"aeroinsight/internal/platform/kafka/admin"
	"aeroinsight/internal/platform/kafka/consumer"
	"aeroinsight/internal/platform/kafka/producer"
	"aeroinsight/internal/platform/metrics"
	"aeroinsight/internal/platform/middleware"
	"aeroinsight/internal/platform/postgres"
	"aeroinsight/internal/platform/redis"
	"aeroinsight/internal/report"
	reportmetrics "aeroinsight/internal/report/metrics"
	reportservice "aeroinsight/internal/report/service"
	reportstore "aeroinsight/internal/report/store"
	"aeroinsight/internal/risk"
	"aeroinsight/internal/session"
	"aeroinsight/pkg/platform/httputil"
	"aeroinsight/pkg/platform/middleware/metadata"
)

const (
	auditQueueSize    = 256
	riskQueueSize     = 256
	riskRetryBackoff  = time.Second
	readinessTimeout  = 2 * time.Second
	defaultPartitions = 3
)

type app struct {
	router  http.Handler
	workers []func(ctx context.Context) error
	checks  map[string]func(ctx context.Context) error
	closers []func()
	backend string
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{checks: make(map[string]func(ctx context.Context) error)}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var (
		reports    reportservice.Store
		profiles   identityservice.ProfileStore
		auditStore audit.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		pgReports := reportstore.NewPostgres(db, cfg.Postgres.DSN, log)
		a.workers = append(a.workers, pgReports.Run)
		pgProfiles := identitystore.NewPostgres(db)
		if len(cfg.Profiles) > 0 {
			if err := pgProfiles.Seed(ctx, cfg.Profiles); err != nil {
				return nil, err
			}
		}
		a.checks["postgres"] = pingDB(db)
		reports, profiles, auditStore = pgReports, pgProfiles, audit.NewPostgresStore(db)
		a.backend = "postgres"
	} else {
		reports = reportstore.NewInMemory()
		profiles = identitystore.NewSeeded(cfg.Profiles)
		auditStore = audit.NewInMemoryStore()
		a.backend = "memory"
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.checks["redis"] = rc.Health
		profiles = identitystore.NewCached(rc.Client, profiles, cfg.Redis.ProfileTTL, log)
	}

	auditQueue := make(chan audit.Event, auditQueueSize)
	auditPublisher := audit.NewPublisher(auditStore, log, audit.WithQueue(auditQueue))
	a.workers = append(a.workers, audit.NewWorker(auditStore, auditQueue, log).Run)

	reportMetrics := reportmetrics.New()
	riskHandler := risk.NewHandler(reports, log,
		risk.WithAuditPublisher(auditPublisher),
		risk.WithMetrics(reportMetrics),
	)
	events, err := wireEvents(ctx, a, cfg, log, riskHandler)
	if err != nil {
		return nil, err
	}
	a.workers = append(a.workers, risk.NewSweeper(reports, riskHandler, log, cfg.Risk.SweepInterval, cfg.Risk.GracePeriod).Run)

	reportService := report.NewService(reports,
		reportservice.WithLogger(log),
		reportservice.WithAuditPublisher(auditPublisher),
		reportservice.WithEventPublisher(events),
		reportservice.WithMetrics(reportMetrics),
	)

	resolver := identityservice.New(profiles, identityservice.WithLogger(log))
	verifier := jwttoken.NewPrincipalVerifier(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience))
	authenticator := session.NewAuthenticator(verifier, resolver, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(metrics.New()))
	r.Use(metadata.ClientMetadata)
	r.Use(authenticator.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	session.NewHandler(cfg.Server.LoginPath).Register(r)
	report.NewHandler(reportService, log, cfg.Server.LoginPath).Register(r)

	a.router = r
	ok = true
	return a, nil
}

// wireEvents selects the report created delivery path: Kafka when brokers are
// configured, the in-process dispatcher otherwise.
func wireEvents(ctx context.Context, a *app, cfg config.Config, log *slog.Logger, handler *risk.Handler) (reportservice.EventPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		dispatcher := risk.NewDispatcher(handler, log, riskQueueSize, cfg.Risk.MaxAttempts, riskRetryBackoff)
		a.workers = append(a.workers, dispatcher.Run)
		return dispatcher, nil
	}

	if err := admin.EnsureTopics(ctx, cfg.Kafka.Brokers, admin.TopicSpec{
		Name:       cfg.Kafka.Topic,
		Partitions: defaultPartitions,
	}); err != nil {
		return nil, err
	}
	prod, err := producer.New(cfg.Kafka.Brokers, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, prod.Close)
	a.checks["kafka"] = prod.Ping

	cons, err := consumer.New(consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		Group:   cfg.Kafka.Group,
		Topics:  []string{cfg.Kafka.Topic},
		Backoff: cfg.Kafka.RetryBackoff,
	}, risk.ConsumerHandler(handler, log), log, consumer.WithRetryable(risk.Retryable))
	if err != nil {
		return nil, err
	}
	a.workers = append(a.workers, cons.Run)
	return risk.NewKafkaPublisher(prod, cfg.Kafka.Topic), nil
}

// handleReady reports 503 while any backing service fails its check.
func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	status := map[string]string{}
	healthy := true
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

func pingDB(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		return nil
	}
}
