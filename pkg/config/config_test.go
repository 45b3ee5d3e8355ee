package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Env: "production"},
		JWT:    JWTConfig{Secret: "prod-secret"},
		Stripe: StripeConfig{
			SecretKey:      "sk_test_123",
			WebhookSecret:  "whsec_123",
			TimeoutSeconds: 10,
		},
		Worker: WorkerConfig{SweepCron: "*/30 * * * *"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing webhook secret",
			mutate:  func(c *Config) { c.Stripe.WebhookSecret = "" },
			wantErr: "STRIPE_WEBHOOK_SECRET",
		},
		{
			name:    "missing secret key",
			mutate:  func(c *Config) { c.Stripe.SecretKey = "" },
			wantErr: "STRIPE_SECRET_KEY",
		},
		{
			name:    "default jwt secret",
			mutate:  func(c *Config) { c.JWT.Secret = "change-me-in-production" },
			wantErr: "JWT_SECRET",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Stripe.TimeoutSeconds = 0 },
			wantErr: "STRIPE_TIMEOUT_SECONDS",
		},
		{
			name:    "bad cron",
			mutate:  func(c *Config) { c.Worker.SweepCron = "every now and then" },
			wantErr: "WORKER_SWEEP_CRON",
		},
		{
			name: "development allows missing stripe keys",
			mutate: func(c *Config) {
				c.Server.Env = "development"
				c.Stripe.SecretKey = ""
				c.Stripe.WebhookSecret = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVER_ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Stripe.TimeoutSeconds)
	assert.Equal(t, "http://localhost:3001/dashboard/billing?success=true", cfg.Stripe.SuccessURL)
	assert.Equal(t, "http://localhost:3001/dashboard/billing?canceled=true", cfg.Stripe.CancelURL)
	assert.Equal(t, "*/30 * * * *", cfg.Worker.SweepCron)
}
