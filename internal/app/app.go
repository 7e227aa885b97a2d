package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/domain/product"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
	"github.com/xenking/coupon-engine/internal/handler"
	"github.com/xenking/coupon-engine/internal/storage/memory"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
	"github.com/xenking/coupon-engine/internal/storage/rediscache"
	"github.com/xenking/coupon-engine/pkg/health"
	"github.com/xenking/coupon-engine/pkg/httpmiddleware"
)

const serviceName = "coupon-engine"

// backend is the storage a server instance runs on.
type backend struct {
	catalog      coupon.Catalog
	store        coupon.Store
	usages       coupon.UsageReader
	categories   coupon.CategoryResolver
	products     product.Repository
	orders       order.Repository
	apikeys      auth.Repository
	txm          redemption.TxManager
	auditor      redemption.Auditor
	invalidators []coupon.Invalidator
	closers      []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects the configured storage driver and registers its
// readiness checks.
func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*backend, error) {
	b := &backend{}

	switch cfg.Storage {
	case StorageMemory:
		lg.Warn("Using in-memory storage, state is lost on restart")
		s := memory.New()
		b.catalog, b.store, b.usages, b.categories = s, s, s, s
		b.products, b.orders, b.apikeys = s, s.Orders(), s
		b.txm, b.auditor = s, s
	default:
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		b.closers = append(b.closers, pool.Close)

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			b.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

		coupons := postgres.NewCouponRepository(pool)
		products := postgres.NewProductRepository(pool)
		b.catalog, b.store, b.usages, b.categories = coupons, coupons, coupons, products
		b.products = products
		b.orders = postgres.NewOrderRepository(pool)
		b.apikeys = postgres.NewAPIKeyRepository(pool)
		b.txm = postgres.NewTxManager(pool)
		b.auditor = postgres.NewAuditor(pool)
	}

	if cfg.Redis.Addr != "" {
		client, err := newRedis(cfg.Redis)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		hs.AddReadinessCheck("redis", time.Second, health.RedisCheck(client))

		cache := rediscache.New(b.catalog, client, rediscache.Options{TTL: cfg.Redis.TTL})
		b.catalog = cache
		b.invalidators = append(b.invalidators, cache)
		lg.Info("Coupon cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}

	return b, nil
}

// newRedis accepts either host:port or a redis:// URL.
func newRedis(cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		opts = parsed
	}
	return redis.NewClient(opts), nil
}

// auditLoop logs used-count drift until ctx is done.
func auditLoop(ctx context.Context, lg *zap.Logger, auditor redemption.Auditor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drift, err := auditor.Drift(ctx)
			if err != nil {
				lg.Warn("Drift audit failed", zap.Error(err))
				continue
			}
			for _, d := range drift {
				lg.Warn("Used count drift",
					zap.String("coupon_id", d.CouponID),
					zap.String("code", d.Code),
					zap.Int("used_count", d.UsedCount),
					zap.Int("live_usages", d.LiveUsages),
				)
			}
		}
	}
}

// newHandler builds the domain services over b and returns the routed,
// middleware-wrapped HTTP handler.
func newHandler(
	ctx context.Context,
	cfg *Config,
	b *backend,
	hs *health.Health,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (http.Handler, error) {
	evaluator := coupon.NewEvaluator()
	redemptions, err := redemption.NewService(b.txm, evaluator, redemption.Options{
		TxTimeout:      cfg.Engine.TxTimeout,
		MeterProvider:  mp,
		TracerProvider: tp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create redemption service")
	}
	h := handler.New(handler.Services{
		Preview:     coupon.NewService(b.catalog, b.usages, b.categories, evaluator, coupon.NewResolver(cfg.Engine.MaxStackCandidates)),
		Redemptions: redemptions,
		Orders:      order.NewService(b.products, b.catalog, redemptions, b.orders),
		Admin:       coupon.NewAdmin(b.store, b.invalidators...),
		Categories:  b.categories,
	})

	mux := http.NewServeMux()
	hs.Register(mux)
	h.Register(mux, handler.NewSecurity(b.apikeys, []byte(cfg.APIKeyPepper)))
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   health.IsProbe,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, routeFinder, tp, mp),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	), nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	b, err := openBackend(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer b.Close()

	healthSvc.Start(ctx, 10*time.Second)

	routes, err := newHandler(ctx, cfg, b, healthSvc, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	if cfg.Engine.AuditInterval > 0 {
		go auditLoop(ctx, lg, b.auditor, cfg.Engine.AuditInterval)
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           routes,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	healthSvc.SetReady(true)
	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
