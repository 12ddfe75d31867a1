package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_platform")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_platform")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "sk_test_platform", cfg.Stripe.APIKey)
	assert.Equal(t, "whsec_platform", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestApplyPlatformDefaults_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := Config{
		Addr:        "127.0.0.1:7000",
		DatabaseURL: "postgres://explicit/db",
	}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestValidateServer(t *testing.T) {
	valid := func() Config {
		return Config{
			JWTSecret: "secret",
			Stripe:    StripeConfig{APIKey: "sk_test", WebhookSecret: "whsec"},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.validateServer())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWT secret"},
		{"missing api key", func(c *Config) { c.Stripe.APIKey = "" }, "stripe credentials"},
		{"missing webhook secret", func(c *Config) { c.Stripe.WebhookSecret = "" }, "stripe credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validateServer()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
