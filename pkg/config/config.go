package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hugh/go-tenant/pkg/util"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Stripe    StripeConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	SuccessURL     string
	CancelURL      string
	TimeoutSeconds int
}

type WorkerConfig struct {
	Concurrency int
	// SweepCron schedules the reconciliation sweep of overdue subscriptions.
	SweepCron string
	// SweepGraceMinutes is how long past period end a subscription may sit
	// without a renewal event before the sweep refetches it.
	SweepGraceMinutes int
	// MetricsAddr serves the worker's /metrics. Empty disables it.
	MetricsAddr string
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (s *StripeConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (w *WorkerConfig) SweepGrace() time.Duration {
	return time.Duration(w.SweepGraceMinutes) * time.Minute
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "gotenant")
	v.SetDefault("DATABASE_PASSWORD", "gotenant_secret")
	v.SetDefault("DATABASE_NAME", "gotenant")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_SUCCESS_URL", "http://localhost:3001/dashboard/billing?success=true")
	v.SetDefault("STRIPE_CANCEL_URL", "http://localhost:3001/dashboard/billing?canceled=true")
	v.SetDefault("STRIPE_TIMEOUT_SECONDS", 10)
	v.SetDefault("WORKER_CONCURRENCY", 10)
	v.SetDefault("WORKER_SWEEP_CRON", "*/30 * * * *")
	v.SetDefault("WORKER_SWEEP_GRACE_MINUTES", 60)
	v.SetDefault("WORKER_METRICS_ADDR", ":9091")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			Env:            v.GetString("SERVER_ENV"),
			AllowedOrigins: splitList(v.GetString("SERVER_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Stripe: StripeConfig{
			SecretKey:      v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret:  v.GetString("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:     v.GetString("STRIPE_SUCCESS_URL"),
			CancelURL:      v.GetString("STRIPE_CANCEL_URL"),
			TimeoutSeconds: v.GetInt("STRIPE_TIMEOUT_SECONDS"),
		},
		Worker: WorkerConfig{
			Concurrency:       v.GetInt("WORKER_CONCURRENCY"),
			SweepCron:         v.GetString("WORKER_SWEEP_CRON"),
			SweepGraceMinutes: v.GetInt("WORKER_SWEEP_GRACE_MINUTES"),
			MetricsAddr:       v.GetString("WORKER_METRICS_ADDR"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the billing engine cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.Stripe.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("STRIPE_TIMEOUT_SECONDS must be positive"))
	}
	if !c.Server.IsDevelopment() {
		if c.Stripe.SecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
		}
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
		}
		if c.JWT.Secret == "change-me-in-production" {
			errs = append(errs, errors.New("JWT_SECRET must be changed outside development"))
		}
	}
	if err := util.ValidateCronExpr(c.Worker.SweepCron); err != nil {
		errs = append(errs, fmt.Errorf("WORKER_SWEEP_CRON: %w", err))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
