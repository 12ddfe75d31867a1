package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/domain/rail"
	"github.com/xenking/paygate/internal/gateway/stripe"
	"github.com/xenking/paygate/internal/handler"
	"github.com/xenking/paygate/internal/storage/postgres"
	"github.com/xenking/paygate/pkg/health"
	"github.com/xenking/paygate/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the API server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	if err := cfg.validateServer(); err != nil {
		return err
	}
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	checker := health.New()
	checker.Register(health.Readiness, "postgres", health.Ping(pool), health.WithTimeout(5*time.Second))
	checker.Register(health.Liveness, "goroutines", health.GoroutineLimit(10000), health.WithTimeout(time.Second))

	g, ctx := errgroup.WithContext(ctx)

	limiter, err := newLimiter(ctx, lg, g, cfg, checker)
	if err != nil {
		return err
	}

	gateway := stripe.New(stripe.Config{
		APIKey:           cfg.Stripe.APIKey,
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		WebhookTolerance: cfg.Stripe.WebhookTolerance,
		Breaker: stripe.BreakerConfig{
			MaxRequests:         cfg.Stripe.Breaker.MaxRequests,
			Interval:            cfg.Stripe.Breaker.Interval,
			Timeout:             cfg.Stripe.Breaker.Timeout,
			ConsecutiveFailures: cfg.Stripe.Breaker.ConsecutiveFailures,
		},
	}, lg.Named("stripe"))
	// An open breaker only affects card payments; local rails keep working.
	checker.Register(health.Readiness, "card-gateway", gateway.Check,
		health.NonCritical(),
		health.WithThresholds(1, 1),
	)

	paymentSvc, orderSvc, err := newServices(ctx, pool, gateway, m, cfg)
	if err != nil {
		return err
	}
	h := handler.NewHandler(handler.Config{}, orderSvc, paymentSvc, auth.NewTokenVerifier([]byte(cfg.JWTSecret)))

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.Get("/livez", checker.Handler(health.Liveness))
	r.Get("/readyz", checker.Handler(health.Readiness))
	h.Mount(r, httpmiddleware.RateLimit(limiter, httpmiddleware.RateLimitConfig{
		Max: cfg.RateLimit.Max,
	}))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("paygate", m),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:          cfg.CORS.Origins,
				Headers:          []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "X-RateLimit-Remaining", "X-RateLimit-Reset"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
		),
	}

	checker.Start(ctx, 10*time.Second)
	checker.SetReady(true)

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-ctx.Done()
		checker.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		checker.Stop()
		return nil
	})
	return g.Wait()
}

// newLimiter picks the Redis store when configured so limits hold across
// replicas, and the in-process store otherwise.
func newLimiter(ctx context.Context, lg *zap.Logger, g *errgroup.Group, cfg *Config, checker *health.Checker) (httpmiddleware.Limiter, error) {
	if cfg.Redis.Addr == "" {
		mem := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		g.Go(func() error {
			mem.Run(ctx)
			return nil
		})
		return mem, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	g.Go(func() error {
		<-ctx.Done()
		return rdb.Close()
	})
	// The limiter fails open, so losing Redis degrades instead of failing.
	checker.Register(health.Readiness, "redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}, health.NonCritical())

	lg.Info("Rate limits shared via Redis", zap.String("addr", cfg.Redis.Addr))
	return httpmiddleware.NewRedisLimiter(rdb, "paygate:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window), nil
}

func newServices(ctx context.Context, pool *pgxpool.Pool, gateway payment.Gateway, m *app.Telemetry, cfg *Config) (*payment.Service, *order.Service, error) {
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	userRepo := postgres.NewUserRepository(pool)

	rails := rail.NewRegistry(
		rail.NewPhonePlan(cfg.MobileMoney.CountryCode, cfg.MobileMoney.LeadingDigits, cfg.MobileMoney.SubscriberDigits),
		rail.DefaultDescriptors()...,
	)
	refs := rail.NewReferenceGenerator(cfg.MobileMoney.ReferencePrefix, cfg.MobileMoney.ReferenceCapacity)
	open, err := paymentRepo.OpenReferences(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load open references")
	}
	refs.Remember(open...)

	paymentSvc, err := payment.NewService(
		payment.Config{
			Currency:          cfg.Payments.Currency,
			GatewayCurrency:   cfg.Payments.GatewayCurrency,
			GatewayMultiplier: cfg.Payments.GatewayMultiplier,
			GatewayTimeout:    cfg.Payments.GatewayTimeout,
		},
		paymentRepo,
		orderRepo,
		rails,
		refs,
		gateway,
		payment.Options{
			MeterProvider:  m.MeterProvider(),
			TracerProvider: m.TracerProvider(),
		},
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create payment service")
	}
	return paymentSvc, order.NewService(orderRepo, userRepo), nil
}
