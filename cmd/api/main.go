package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/config"
	"github.com/kursadbilgin/attribution-relay/internal/handler"
	"github.com/kursadbilgin/attribution-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/attribution-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/attribution-relay/internal/infra/redis"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"github.com/kursadbilgin/attribution-relay/internal/provider"
	"github.com/kursadbilgin/attribution-relay/internal/repository"
	"github.com/kursadbilgin/attribution-relay/internal/service"
	"github.com/kursadbilgin/attribution-relay/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	refersion, err := provider.NewRefersionClient(cfg.RefersionBaseURL, cfg.RefersionPublicKey, cfg.RefersionSecretKey, cfg.VendorTimeout())
	if err != nil {
		logger.Fatal("refersion client initialization failed", zap.Error(err))
	}

	var analytics attribution.Analytics
	if cfg.SegmentEnabled() {
		segment, err := provider.NewSegmentClient(cfg.SegmentBaseURL, cfg.SegmentWriteKey, cfg.VendorTimeout())
		if err != nil {
			logger.Fatal("segment client initialization failed", zap.Error(err))
		}
		analytics = segment
	} else {
		logger.Warn("SEGMENT_WRITE_KEY not set, analytics propagation disabled")
	}

	syncStore, err := infraredis.NewSyncStore(rdb)
	if err != nil {
		logger.Fatal("sync store initialization failed", zap.Error(err))
	}
	lookups := []attribution.IdentityLookup{syncStore}
	if cfg.HubSpotLookupEnabled() {
		hubspot, err := provider.NewHubSpotClient(cfg.HubSpotBaseURL, cfg.HubSpotAccessToken, cfg.VendorTimeout())
		if err != nil {
			logger.Fatal("hubspot client initialization failed", zap.Error(err))
		}
		lookups = append(lookups, hubspot)
	}

	var forms service.FormSubmitter
	if cfg.HubSpotFormsEnabled() {
		formsClient, err := provider.NewHubSpotFormsClient(cfg.HubSpotFormsBaseURL, cfg.HubSpotPortalID, cfg.VendorTimeout())
		if err != nil {
			logger.Fatal("hubspot forms client initialization failed", zap.Error(err))
		}
		forms = formsClient
	}

	trackingRepo := repository.NewGormTrackingRepo(db)
	trackingService, err := service.NewTrackingService(trackingRepo, logger)
	if err != nil {
		logger.Fatal("tracking service initialization failed", zap.Error(err))
	}

	resolver := attribution.NewResolver(trackingService, analytics, refersion, lookups, cfg.Retention(), cfg.VendorTimeout(), logger)
	resolver.SetMetrics(metrics)

	attempts := observability.NewAttemptRing(cfg.AttemptBufferSize)
	recorders := service.AttemptRecorders{attempts}
	var persisted handler.PersistedAttempts
	if cfg.PersistAttempts {
		attemptRepo := repository.NewGormAttemptRepo(db)
		recorders = append(recorders, attemptRepo)
		persisted = attemptRepo
	}

	relay, err := service.NewRelayService(refersion, recorders, cfg.VendorTimeout(), logger)
	if err != nil {
		logger.Fatal("relay service initialization failed", zap.Error(err))
	}
	relay.SetMetrics(metrics)

	syncService, err := service.NewSyncService(syncStore, cfg.Retention(), logger)
	if err != nil {
		logger.Fatal("sync service initialization failed", zap.Error(err))
	}
	syncService.SetMetrics(metrics)

	conversions := service.NewConversionService(forms, logger)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	limit := handler.RateLimitMiddleware(limiter, metrics, logger)

	app := fiber.New(transport.NewAppConfig(logger))
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(handler.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	app.Use("/api", cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,X-Debug-Key,X-Visitor-ID,X-Request-ID",
	}))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := registerRoutes(app, routeDeps{
		cfg:         cfg,
		rdb:         rdb,
		resolver:    resolver,
		relay:       relay,
		tracking:    trackingService,
		sync:        syncService,
		conversions: conversions,
		attempts:    attempts,
		persisted:   persisted,
		logger:      logger,
		limit:       limit,
	}); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("attribution-relay api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := app.ShutdownWithContext(shutdownCtx)
		resolver.Wait()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", zap.Error(err))
	}
	logger.Info("attribution-relay api stopped")
}

type routeDeps struct {
	cfg         *config.Config
	rdb         goredis.UniversalClient
	resolver    *attribution.Resolver
	relay       *service.RelayService
	tracking    *service.TrackingService
	sync        *service.SyncService
	conversions *service.ConversionService
	attempts    *observability.AttemptRing
	persisted   handler.PersistedAttempts
	logger      *zap.Logger
	limit       fiber.Handler
}

func registerRoutes(app *fiber.App, deps routeDeps) error {
	visitors := func(visitorID string) attribution.Store {
		store, err := infraredis.NewVisitorStore(deps.rdb, visitorID)
		if err != nil {
			deps.logger.Debug("visitor store unavailable", zap.Error(err))
			return nil
		}
		return store
	}

	if err := handler.RegisterWebhookRoutes(app, deps.relay); err != nil {
		return err
	}
	if err := handler.RegisterTrackingRoutes(app, deps.tracking, handler.TrackingOptions{
		Resolver:     deps.resolver,
		CookieDomain: deps.cfg.CookieDomain,
		AllowedHosts: deps.cfg.AllowedRedirectHosts(),
	}, deps.limit); err != nil {
		return err
	}
	if err := handler.RegisterSyncRoutes(app, deps.sync, deps.limit); err != nil {
		return err
	}
	if err := handler.RegisterDebugRoutes(app, handler.DebugOptions{
		Key:       deps.cfg.DebugKey,
		Attempts:  deps.attempts,
		Persisted: deps.persisted,
		Tracking:  deps.tracking,
		Logger:    deps.logger,
	}); err != nil {
		return err
	}
	return handler.RegisterConversionRoutes(app, deps.conversions, handler.ConversionOptions{
		Resolver:     deps.resolver,
		Visitors:     visitors,
		CookieDomain: deps.cfg.CookieDomain,
	}, deps.limit)
}
