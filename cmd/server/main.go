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

	"github.com/hugh/go-tenant/internal/api"
	"github.com/hugh/go-tenant/internal/api/middleware"
	"github.com/hugh/go-tenant/internal/auth"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/hugh/go-tenant/internal/metrics"
	stripeprovider "github.com/hugh/go-tenant/internal/payment/stripe"
	"github.com/hugh/go-tenant/internal/tasks"
	"github.com/hugh/go-tenant/pkg/config"
	"github.com/hugh/go-tenant/pkg/queue"
	"github.com/hugh/go-tenant/pkg/util"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
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

	logger.Info("starting go-tenant server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if cfg.Server.IsDevelopment() {
		if err := database.AutoMigrate(db); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	// Redis is optional: rate limits fall back to in-process buckets and
	// catalog changes are not synced until it is back.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis", "error", err)
		redisClient.Close()
		redisClient = nil
	}

	var enqueuer tasks.Enqueuer
	var closeQueue func() error
	if redisClient != nil {
		client := queue.NewClient(&cfg.Redis)
		enqueuer = client
		closeQueue = client.Close
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	provider := stripeprovider.NewProvider(cfg.Stripe.SecretKey, cfg.Stripe.Timeout())
	verifier := stripeprovider.NewVerifier(cfg.Stripe.WebhookSecret)

	store := billing.NewGormStore(db)
	coupons := billing.NewCoupons(db, m)
	initiator := billing.NewInitiator(billing.InitiatorConfig{
		Store:      store,
		Coupons:    coupons,
		Provider:   provider,
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
		Timeout:    cfg.Stripe.Timeout(),
		Logger:     logger,
		Metrics:    m,
	})
	reconciler := billing.NewReconciler(billing.ReconcilerConfig{
		Verifier:      verifier,
		Subscriptions: provider,
		Store:         store,
		Timeout:       cfg.Stripe.Timeout(),
		Logger:        logger,
	})

	registry := entitlement.DefaultRegistry()
	resolver := entitlement.NewResolver(registry, entitlement.NewGormSource(db),
		entitlement.WithLogger(logger),
		entitlement.WithMetrics(m),
	)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())

	limiter := middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.WindowSeconds)
	limiterDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.Sweep(10 * time.Minute)
			case <-limiterDone:
				return
			}
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Logger:         logger,
		JWTService:     jwtService,
		Registry:       registry,
		Resolver:       resolver,
		Reconciler:     reconciler,
		Initiator:      initiator,
		Coupons:        coupons,
		Store:          store,
		Queue:          enqueuer,
		Metrics:        m,
		Gatherer:       reg,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	close(limiterDone)

	if closeQueue != nil {
		closeQueue()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}
