package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database"
	"github.com/hugh/go-tenant/internal/metrics"
	stripeprovider "github.com/hugh/go-tenant/internal/payment/stripe"
	"github.com/hugh/go-tenant/internal/tasks"
	"github.com/hugh/go-tenant/pkg/config"
	"github.com/hugh/go-tenant/pkg/queue"
	"github.com/hugh/go-tenant/pkg/util"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting go-tenant worker",
		"concurrency", cfg.Worker.Concurrency,
		"sweep_cron", cfg.Worker.SweepCron,
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	provider := stripeprovider.NewProvider(cfg.Stripe.SecretKey, cfg.Stripe.Timeout())
	catalog := billing.NewCatalogSync(db, provider, cfg.Stripe.Timeout(), logger, m)
	sweeper := billing.NewSweeper(billing.SweeperConfig{
		Store:         billing.NewGormStore(db),
		Subscriptions: provider,
		Grace:         cfg.Worker.SweepGrace(),
		Timeout:       cfg.Stripe.Timeout(),
		Logger:        logger,
	})

	handler := tasks.NewHandler(catalog, sweeper, logger)
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	srv := queue.NewServer(&cfg.Redis, cfg.Worker.Concurrency, logger)

	scheduler := queue.NewScheduler(&cfg.Redis, logger)
	entryID, err := scheduler.Register(cfg.Worker.SweepCron, tasks.NewSubscriptionSweepTask())
	if err != nil {
		logger.Error("failed to schedule subscription sweep", "error", err)
		os.Exit(1)
	}
	logger.Info("subscription sweep scheduled", "entry_id", entryID, "cron", cfg.Worker.SweepCron)

	var metricsServer *http.Server
	if cfg.Worker.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(mux); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for tasks...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")

	scheduler.Shutdown()
	srv.Shutdown()

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
		cancel()
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}
