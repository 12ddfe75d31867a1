package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (PAYGATE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PAYGATE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWTSecret   string `usage:"HS256 secret of the storefront session tokens" flag:"jwt-secret" env:"JWT_SECRET"`
	Payments    PaymentsConfig
	Stripe      StripeConfig
	MobileMoney MobileMoneyConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
	Kafka       KafkaConfig
}

// PaymentsConfig holds currency settings.
type PaymentsConfig struct {
	Currency          string        `default:"MWK" usage:"Store currency"`
	GatewayCurrency   string        `default:"usd" usage:"Currency card intents are charged in" flag:"gateway-currency"`
	GatewayMultiplier int64         `default:"100" usage:"Store amount to gateway minor units multiplier" flag:"gateway-multiplier"`
	GatewayTimeout    time.Duration `default:"10s" usage:"Per-call card gateway timeout" flag:"gateway-timeout"`
}

// StripeConfig holds card gateway credentials and breaker tuning.
type StripeConfig struct {
	APIKey           string        `usage:"Stripe secret key (PAYGATE_STRIPE_API_KEY or STRIPE_SECRET_KEY)" flag:"stripe-api-key" env:"API_KEY"`
	WebhookSecret    string        `usage:"Stripe webhook signing secret (or STRIPE_WEBHOOK_SECRET)" flag:"stripe-webhook-secret" env:"WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `default:"5m" usage:"Max age of a signed webhook" flag:"stripe-webhook-tolerance"`
	Breaker          BreakerConfig
}

// BreakerConfig tunes the circuit breaker around gateway calls.
type BreakerConfig struct {
	MaxRequests         uint32        `default:"1" usage:"Requests allowed while half-open"`
	Interval            time.Duration `default:"1m" usage:"Closed-state counter reset interval"`
	Timeout             time.Duration `default:"30s" usage:"Time spent open before probing"`
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive failures that open the breaker"`
}

// MobileMoneyConfig describes the local phone plan and payment references.
type MobileMoneyConfig struct {
	CountryCode       string `default:"265" usage:"Country calling code of wallet numbers"`
	LeadingDigits     string `default:"18" usage:"Allowed first digits of subscriber numbers"`
	SubscriberDigits  int    `default:"9" usage:"Subscriber number length"`
	ReferencePrefix   string `default:"TH" usage:"Prefix of mobile-money payment references"`
	ReferenceCapacity uint   `default:"1000000" usage:"Expected number of issued references"`
}

// RedisConfig enables the shared rate limit store when Addr is set.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address; empty keeps rate limits in process"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// KafkaConfig configures the outbox relay.
type KafkaConfig struct {
	Brokers       []string      `default:"localhost:9092" usage:"Kafka bootstrap brokers"`
	Topic         string        `default:"paygate.payments" usage:"Topic payment events are published to"`
	Interval      time.Duration `default:"1s" usage:"Outbox poll interval"`
	BatchSize     int           `default:"100" usage:"Events claimed per poll"`
	PurgeInterval time.Duration `default:"1h" usage:"How often published events are purged"`
	Retention     time.Duration `default:"168h" usage:"How long published events are kept"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PAYGATE",
		Files:     []string{"config.yaml", "/etc/paygate/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PAYGATE_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// validateServer checks the settings only the API server needs.
func (c *Config) validateServer() error {
	if c.JWTSecret == "" {
		return errors.New("JWT secret is required: set PAYGATE_JWT_SECRET")
	}
	if c.Stripe.APIKey == "" || c.Stripe.WebhookSecret == "" {
		return errors.New("stripe credentials are required: set STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL, PORT and the Stripe key names to the
// application's PAYGATE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Stripe.APIKey, "STRIPE_SECRET_KEY")
	fallback(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")

	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
