package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/failedorder"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/storage/mongo"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	rediscache "github.com/xenking/kart-checkout/internal/storage/redis"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

const serviceName = "checkout-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, tel httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pricingCfg, err := cfg.PricingConfig()
	if err != nil {
		return errors.Wrap(err, "pricing config")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// MongoDB for failed order records.
	mdb, err := mongo.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
	if err != nil {
		return errors.Wrap(err, "connect mongo")
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mdb.Client().Disconnect(dctx); err != nil {
			lg.Warn("Mongo disconnect failed", zap.Error(err))
		}
	}()
	failedRepo := mongo.NewFailedOrderRepository(mdb)
	if err := failedRepo.CreateIndexes(ctx); err != nil {
		return errors.Wrap(err, "create failed order indexes")
	}

	// Optional Redis product cache.
	var cache catalog.Cache
	rdb, err := newRedisClient(cfg.RedisAddr)
	if err != nil {
		return errors.Wrap(err, "redis")
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		cache = rediscache.NewProductCache(rdb, cfg.Catalog.CacheTTL)
	} else {
		lg.Info("Product cache disabled")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddReadinessCheck("mongo", 5*time.Second, func(ctx context.Context) error {
		return mdb.Client().Ping(ctx, nil)
	})
	if rdb != nil {
		healthSvc.AddOptionalCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Metrics.
	meter := tel.MeterProvider().Meter(serviceName)
	pricingMetrics, err := pricing.NewMetrics(meter)
	if err != nil {
		return errors.Wrap(err, "pricing metrics")
	}
	failedMetrics, err := failedorder.NewMetrics(meter)
	if err != nil {
		return errors.Wrap(err, "failed order metrics")
	}

	// Repositories.
	products := catalog.NewFetcher(postgres.NewProductRepository(pool), cache, cfg.CatalogConfig(), lg.Named("catalog"))
	couponRepo := postgres.NewCouponRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	engine := pricing.NewEngine(pricingCfg, products, coupon.NewRepoValidator(couponRepo), userRepo, pricingMetrics)
	orderService := order.NewService(engine, orderRepo)
	processor := payment.NewProcessor(engine)
	recorder := failedorder.NewRecorder(failedRepo, cfg.FailedOrderLimit(), failedMetrics)

	h := handler.NewHandler(
		orderService,
		engine,
		processor,
		recorder,
		handler.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
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
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Routing(),
			httpmiddleware.Instrument(serviceName, tel),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
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

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRedisClient accepts either host:port or a redis:// URL. An empty address
// returns a nil client.
func newRedisClient(addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	if strings.Contains(addr, "://") {
		opts, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return goredis.NewClient(opts), nil
	}
	return goredis.NewClient(&goredis.Options{Addr: addr}), nil
}
