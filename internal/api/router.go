package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hugh/go-tenant/internal/api/handlers"
	"github.com/hugh/go-tenant/internal/api/middleware"
	"github.com/hugh/go-tenant/internal/auth"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/hugh/go-tenant/internal/metrics"
	"github.com/hugh/go-tenant/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Logger     *slog.Logger
	JWTService auth.TokenService
	Registry   *entitlement.Registry
	Resolver   *entitlement.Resolver
	Reconciler *billing.Reconciler
	Initiator  *billing.Initiator
	Coupons    *billing.Coupons
	Store      billing.Store
	// Queue receives catalog sync tasks. Nil disables syncing.
	Queue          tasks.Enqueuer
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string // CORS allowed origins
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		// Default to localhost for development - configure in production
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Auth-Token"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	})

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	webhookHandler := handlers.NewWebhookHandler(cfg.Reconciler, cfg.Metrics, cfg.Logger)
	billingHandler := handlers.NewBillingHandler(cfg.Initiator, cfg.Coupons, cfg.Store, cfg.Logger)
	roleHandler := handlers.NewRoleHandler(cfg.DB, cfg.Registry, cfg.Logger)
	catalogHandler := handlers.NewCatalogHandler(cfg.DB, cfg.Registry, cfg.Queue, cfg.Logger)

	// Health endpoints (no auth required), limited per client IP
	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(middleware.RateLimit(cfg.RateLimiter))
		}
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)
		if cfg.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		}
	})

	// Authenticated by signature. Not rate limited.
	r.Post("/webhooks/stripe", webhookHandler.Stripe)

	allow := func(feature, action string) func(http.Handler) http.Handler {
		return middleware.RequirePermission(cfg.Resolver, feature, action)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(corsHandler)
		r.Use(middleware.Auth(cfg.JWTService))
		if cfg.RateLimiter != nil {
			r.Use(middleware.RateLimitByUser(cfg.RateLimiter))
		}

		r.Route("/billing", func(r chi.Router) {
			// Any member may browse the catalog.
			r.Get("/products", catalogHandler.ListProducts)
			r.With(allow(entitlement.FeatureBilling, entitlement.ActionCreate)).Get("/coupons/{code}", billingHandler.Coupon)
			r.With(allow(entitlement.FeatureBilling, entitlement.ActionCreate)).Post("/checkout", billingHandler.Checkout)
			r.With(allow(entitlement.FeatureBilling, entitlement.ActionView)).Get("/subscription", billingHandler.Subscription)
			r.With(allow(entitlement.FeatureBilling, entitlement.ActionDelete)).Post("/subscription/cancel", billingHandler.Cancel)
			r.With(allow(entitlement.FeatureBilling, entitlement.ActionView)).Get("/transactions", billingHandler.Transactions)
		})

		r.Route("/organizations/roles", func(r chi.Router) {
			r.With(allow(entitlement.FeatureRole, entitlement.ActionView)).Get("/", roleHandler.List)
			r.With(allow(entitlement.FeatureRole, entitlement.ActionUpdate)).Put("/{role}/permissions", roleHandler.Update)
			r.With(allow(entitlement.FeatureRole, entitlement.ActionDelete)).Delete("/{role}/permissions", roleHandler.Delete)
		})

		// Product and coupon capabilities exist only in the global tier.
		r.Route("/admin", func(r chi.Router) {
			r.With(allow(entitlement.FeatureProduct, entitlement.ActionCreate)).Post("/products", catalogHandler.CreateProduct)
			r.With(allow(entitlement.FeatureProduct, entitlement.ActionUpdate)).Put("/products/{id}", catalogHandler.UpdateProduct)
			r.With(allow(entitlement.FeatureProduct, entitlement.ActionDelete)).Delete("/products/{id}", catalogHandler.ArchiveProduct)
			r.With(allow(entitlement.FeatureProduct, entitlement.ActionCreate)).Post("/products/{id}/prices", catalogHandler.CreatePrice)
			r.With(allow(entitlement.FeatureProduct, entitlement.ActionDelete)).Delete("/prices/{id}", catalogHandler.DeactivatePrice)
			r.With(allow(entitlement.FeatureCoupon, entitlement.ActionCreate)).Post("/coupons", catalogHandler.CreateCoupon)
			r.With(allow(entitlement.FeatureCoupon, entitlement.ActionUpdate)).Put("/coupons/{id}", catalogHandler.UpdateCoupon)
			r.With(allow(entitlement.FeatureCoupon, entitlement.ActionDelete)).Delete("/coupons/{id}", catalogHandler.DeleteCoupon)
		})
	})

	return &Router{r}
}
