package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"vaultrail/internal/alert"
	"vaultrail/internal/audit"
	"vaultrail/internal/crypto"
	"vaultrail/internal/gateway"
	"vaultrail/internal/keys"
	"vaultrail/internal/masking"
	"vaultrail/internal/platform/config"
	"vaultrail/internal/platform/logger"
	"vaultrail/internal/platform/metrics"
	"vaultrail/internal/protection"
	"vaultrail/internal/reports"
	"vaultrail/internal/scheduler"
	"vaultrail/internal/storage"
	httptransport "vaultrail/internal/transport/http"
	"vaultrail/pkg/platform/middleware/auth"
)

// storeFeed is what the wiring needs from a backend: the durable store plus
// its change feed. Both provided backends satisfy it.
type storeFeed interface {
	storage.Store
	storage.Feed
}

// defaultFieldConfig seeds the protection registry. Operators extend it at
// runtime; these are the tables the service protects out of the box.
func defaultFieldConfig() map[string][]protection.FieldConfig {
	return map[string][]protection.FieldConfig{
		"clients": {
			{Field: "national_id", Type: masking.TypeNationalID},
			{Field: "email", Type: masking.TypeEmail},
			{Field: "phone", Type: masking.TypePhone},
		},
		"cards": {
			{Field: "card_number", Type: masking.TypeCardNumber},
			{Field: "cvv", Type: masking.TypeCVV},
		},
		"users": {
			{Field: "email", Type: masking.TypeEmail},
			{Field: "phone", Type: masking.TypePhone},
		},
	}
}

// main wires dependencies in construction order: keys, cipher, protection,
// store, audit pipeline, alert engine, gateway, transport. Business logic
// lives in the internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := keys.NewManager(
		keys.WithLogger(log),
		keys.WithExpiryHorizon(cfg.Keys.ExpiryHorizon),
	)
	if err != nil {
		log.Error("key manager init failed", "error", err)
		os.Exit(1)
	}

	cipher := crypto.NewService(manager, crypto.WithLogger(log), crypto.WithMetrics(m))
	policy := protection.NewPolicy(cipher, protection.WithLogger(log))
	registry := protection.NewRegistry(defaultFieldConfig())

	var backend storeFeed
	if cfg.Postgres.DSN != "" {
		pg, err := storage.NewPostgresStore(cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres init failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("schema init failed", "error", err)
			os.Exit(1)
		}
		backend = pg
		log.Info("using postgres store")
	} else {
		backend = storage.NewMemoryStore()
		log.Info("using in-memory store")
	}

	pipeline := audit.NewPipeline(audit.NewStoreSink(backend),
		audit.WithBatchSize(cfg.Audit.BatchSize),
		audit.WithFlushTimeout(cfg.Audit.FlushTimeout),
		audit.WithFallbackCap(cfg.Audit.FallbackCap),
		audit.WithLogger(log),
		audit.WithMetrics(m),
	)

	var windows alert.ActivityWindows
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Error("redis config invalid", "error", err)
			os.Exit(1)
		}
		windows = alert.NewRedisWindows(redis.NewClient(opts))
		log.Info("using redis activity windows")
	} else {
		windows = alert.NewMemoryWindows()
	}

	engine := alert.NewEngine(backend, windows, alertRuleConfig(cfg.Alerts),
		alert.WithLogger(log),
		alert.WithMetrics(m),
	)
	var engineFeed storage.Feed = backend
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Consume {
		engineFeed = storage.NewKafkaFeed(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ConsumerGroup)
		log.Info("alert engine consuming from kafka", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.ConsumerGroup)
	}
	go func() {
		if err := engine.Run(ctx, engineFeed); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("alert engine stopped", "error", err)
		}
	}()

	if len(cfg.Kafka.Brokers) > 0 {
		mirror, err := storage.NewKafkaMirror(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("kafka mirror init failed", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := mirror.Run(ctx, backend, audit.EventsTable); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka mirror stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = mirror.Close(shutdownCtx)
		}()
		log.Info("mirroring audit events to kafka", "topic", cfg.Kafka.Topic)
	}

	sched := scheduler.New(manager, pipeline, cfg.Keys.RotationSpec, cfg.Keys.RotationInterval, log)
	if err := sched.Start(); err != nil {
		log.Error("scheduler init failed", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	gw := gateway.New(backend, policy, registry, pipeline,
		gateway.WithLogger(log),
		gateway.WithMetrics(m),
	)
	exporter := reports.NewExporter(backend, pipeline)

	verifier := auth.NewVerifier(cfg.JWTSigningKey)
	handler := httptransport.NewHandler(gw, pipeline, manager, engine, exporter, log)
	router := httptransport.NewRouter(handler, verifier, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("vaultrail listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	// Drain the audit queue last so in-flight handler events are not lost.
	pipeline.Flush(shutdownCtx)
	log.Info("shutdown complete", "unflushed_fallback", pipeline.Fallback().Len())
}

func alertRuleConfig(cfg config.AlertsConfig) alert.RuleConfig {
	return alert.RuleConfig{
		FailedLoginThreshold: cfg.FailedLoginThreshold,
		FailedLoginWindow:    cfg.FailedLoginWindow,
		RateLimitThreshold:   cfg.RateLimitThreshold,
		RateLimitWindow:      cfg.RateLimitWindow,
		NightStartHour:       cfg.NightStartHour,
		NightEndHour:         cfg.NightEndHour,
		BulkExportThreshold:  cfg.BulkExportThreshold,
		AnomalousIPThreshold: cfg.AnomalousIPThreshold,
		AnomalousIPWindow:    cfg.AnomalousIPWindow,
		SensitiveResources:   cfg.SensitiveResources,
	}
}
