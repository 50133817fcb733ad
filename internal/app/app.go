package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/auth"
	"github.com/xenking/marketplace-promo/internal/domain/checkout"
	"github.com/xenking/marketplace-promo/internal/domain/coupon"
	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/event"
	"github.com/xenking/marketplace-promo/internal/handler"
	"github.com/xenking/marketplace-promo/internal/storage/postgres"
	"github.com/xenking/marketplace-promo/pkg/health"
	"github.com/xenking/marketplace-promo/pkg/httpmiddleware"
)

// Run creates all dependencies, serves HTTP and shuts down gracefully once
// ctx is cancelled.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	probes := health.New()
	probes.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	probes.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	probes.Start(ctx, 10*time.Second)
	probes.SetReady(true)

	h, err := newHandler(ctx, pool, cfg, probes, m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		probes.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		probes.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHandler wires storage, domain services and the HTTP surface on top of
// pool. The sweeper of the rate limiter stops with ctx.
func newHandler(
	ctx context.Context,
	pool *pgxpool.Pool,
	cfg *Config,
	probes *health.Health,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
) (http.Handler, error) {
	// Storage.
	products := postgres.NewCachedProducts(
		postgres.NewProductRepository(pool),
		cfg.ProductCache.Size,
		cfg.ProductCache.TTL,
	)
	ruleRepo := postgres.NewRuleRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	ledger := postgres.NewUsageLedger(pool)

	// Domain services.
	rules := discount.NewService(ruleRepo, eventRepo, ledger)
	events := event.NewService(eventRepo)
	codes := coupon.NewValidator(rules, orderRepo)
	checkoutSvc, err := checkout.NewService(products, rules, ledger, orderRepo, mp)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout service")
	}
	authn := auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), cfg.APIKeyPepper)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})
	go limiter.RunSweeper(ctx)

	h := handler.NewHandler(
		handler.Config{ValidateLimit: limiter.Middleware()},
		rules, events, codes, checkoutSvc, authn,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", probes.Handler(health.Liveness))
	mux.HandleFunc("/readyz", probes.Handler(health.Readiness))
	mux.Handle("/api/", h.Router())

	return httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("promo-api", mp, tp),
	), nil
}
