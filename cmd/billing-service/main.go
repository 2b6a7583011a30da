package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AnuragDani/subscription-billing/internal/billing"
	"github.com/AnuragDani/subscription-billing/internal/cache"
	"github.com/AnuragDani/subscription-billing/internal/catalog"
	"github.com/AnuragDani/subscription-billing/internal/config"
	"github.com/AnuragDani/subscription-billing/internal/database"
	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/store"
	"github.com/AnuragDani/subscription-billing/internal/store/memory"
	"github.com/AnuragDani/subscription-billing/internal/store/postgres"
	ws "github.com/AnuragDani/subscription-billing/internal/websocket"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithOptions("billing-service", logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to the store
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open store", "backend", cfg.StoreBackend, "error", err)
	}
	defer st.Close()

	// Seed the plan catalog
	if cfg.PlanCatalogPath != "" {
		plans, err := catalog.LoadPlans(cfg.PlanCatalogPath)
		if err != nil {
			log.Fatal("Failed to load plan catalog", "path", cfg.PlanCatalogPath, "error", err)
		}
		added, err := catalog.Seed(ctx, st, plans, billing.SystemClock())
		if err != nil {
			log.Fatal("Failed to seed plan catalog", "error", err)
		}
		log.Info("Plan catalog loaded", "path", cfg.PlanCatalogPath, "plans", len(plans), "added", added)
	}

	// Connect to Redis for the run lock
	var lock cache.Locker = cache.NoopLock{}
	var redisHealth healthChecker
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", "error", err)
		}
		defer redisClient.Close()
		lock = redisClient
		redisHealth = redisClient
		log.Info("Connected to Redis")
	} else {
		log.Warn("REDIS_URL not set, billing runs are not guarded across replicas")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Event delivery: websocket console feed plus the optional webhook
	hub := ws.NewHub(log.With("component", "ws-hub"))
	go hub.Run(ctx)

	emitters := events.Fanout{hub}
	var publisher *events.Publisher
	if cfg.WebhookURL != "" {
		publisher = events.NewPublisher(cfg.WebhookURL, log.With("component", "webhook"))
		emitters = append(emitters, publisher)
		log.Info("Webhook delivery enabled", "url", cfg.WebhookURL)
	}

	opts := billing.Options{
		Store:   st,
		Events:  emitters,
		Metrics: m,
		Logger:  log,
		Lock:    lock,
		Workers: cfg.BillingWorkers,
		LockTTL: cfg.BillingLockTTL,
	}

	scheduler := NewScheduler(billing.NewCycleProcessor(opts), SchedulerConfig{
		Schedule:   cfg.BillingSchedule,
		Enabled:    cfg.BillingSchedulerEnabled,
		RunTimeout: cfg.BillingRunTimeout,
	}, billing.SystemClock, log.With("component", "scheduler"))

	handler := NewHandler(HandlerDeps{
		Billing:   opts,
		Scheduler: scheduler,
		Redis:     redisHealth,
		Hub:       hub,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(m, registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BillingRunTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start billing scheduler", "schedule", cfg.BillingSchedule, "error", err)
	}

	// Handle graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Server is shutting down...")

		// Stop scheduler first
		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Could not gracefully shutdown the server", "error", err)
		}

		stop()
		if publisher != nil {
			publisher.Wait()
		}
		close(done)
	}()

	log.Info("Billing service starting", "port", cfg.Port, "store", cfg.StoreBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("Could not listen", "addr", srv.Addr, "error", err)
	}

	<-done
	log.Info("Server stopped")
}

// openStore connects the configured backend. Postgres gets its schema applied.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn("Using in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Database connection established")
	return postgres.New(db), nil
}
