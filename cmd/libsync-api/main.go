package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/libsync-api/api/swagger"
	"github.com/noah-isme/libsync-api/internal/handler"
	internalmiddleware "github.com/noah-isme/libsync-api/internal/middleware"
	"github.com/noah-isme/libsync-api/internal/repository"
	"github.com/noah-isme/libsync-api/internal/service"
	"github.com/noah-isme/libsync-api/pkg/cache"
	"github.com/noah-isme/libsync-api/pkg/config"
	"github.com/noah-isme/libsync-api/pkg/database"
	"github.com/noah-isme/libsync-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/libsync-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/libsync-api/pkg/middleware/requestid"
)

// @title Library Sync API
// @version 3.0
// @description Versioned optimistic-concurrency sync API for bibliographic libraries
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.basic BasicAuth

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	store, closeStore, err := openStore(ctx, cfg, metrics, checks)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
		checks["redis"] = cache.Ready(redisClient)
	}

	var locker repository.Locker = repository.NewLocalLocker()
	if cfg.Lock.Backend == config.LockRedis {
		if redisClient == nil {
			logr.Fatal("LOCK_BACKEND=redis requires REDIS_ENABLED")
		}
		locker = repository.NewRedisLocker(redisClient, cfg.Lock.TTL)
	}

	var sessions service.LoginSessionRepository = repository.NewMemoryLoginSessionRepository()
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		sessions = repository.NewRedisLoginSessionRepository(redisClient)
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && cacheRepo != nil)

	fulltext := service.NewFullTextService(service.FullTextConfig{Workers: cfg.FullText.Workers, MaxRetries: cfg.FullText.Retries}, logr)
	fulltext.Start(ctx)
	defer fulltext.Stop()

	validate := validator.New()
	presenter := service.NewObjectPresenter(cfg.APIBaseURL, cfg.URIBase)
	mirror := service.NewRelationMirror(cfg.URIBase)
	listing := service.NewListingService(store, mirror, fulltext, service.ListingConfig{
		DefaultLimit: cfg.Sync.DefaultLimit,
		MaxLimit:     cfg.Sync.MaxLimit,
	}, validate, logr)
	writes := service.NewWriteService(store, locker, mirror, presenter,
		service.WriteConfig{MaxBatch: cfg.Sync.MaxBatch},
		service.WriteHooks{Indexer: fulltext, Observer: metrics, Cache: cacheSvc},
		validate, logr)
	keys := service.NewKeyService(sessions, validate, logr, service.KeyConfig{
		Secret:                cfg.Keys.Secret,
		Issuer:                cfg.Keys.Issuer,
		SuperuserName:         cfg.Keys.SuperuserName,
		SuperuserPasswordHash: cfg.Keys.SuperuserPasswordHash,
		SessionTTL:            cfg.Keys.LoginSessionTTL,
		LoginURLBase:          cfg.Keys.LoginURLBase,
	})
	citation := service.NewCitationService(service.CitationConfig{
		ServiceURL: cfg.Citation.ServiceURL,
		Timeout:    cfg.Citation.Timeout,
	}, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	handler.Register(r, handler.Routes{
		Objects:   handler.NewObjectHandler(listing, writes, citation, presenter, cfg.APIBaseURL),
		Tags:      handler.NewTagHandler(service.NewTagService(listing, writes), cfg.APIBaseURL),
		Settings:  handler.NewSettingHandler(service.NewSettingsService(listing, writes)),
		Keys:      handler.NewKeyHandler(keys),
		Metrics:   handler.NewMetricsHandler(metrics, checks),
		Auth:      internalmiddleware.APIKey(keys),
		Superuser: internalmiddleware.Superuser(keys),
		Cache:     internalmiddleware.ListingCache(cacheSvc, listing),
		Audit:     internalmiddleware.Audit(logr),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openStore selects the object store backend and registers its readiness check.
func openStore(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, checks map[string]handler.ReadinessCheck) (repository.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreMemory, "":
		return repository.NewMemoryStore(), func() {}, nil
	case config.StorePostgres, config.StoreSQLite:
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	open := func() (*sqlx.DB, error) { return database.NewPostgres(ctx, cfg.Database) }
	if cfg.Store.Driver == config.StoreSQLite {
		open = func() (*sqlx.DB, error) { return database.NewSQLite(ctx, cfg.SQLite) }
	}
	db, err := open()
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewSQLStore(db, metrics)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	checks["store"] = store.Ping
	return store, func() { _ = db.Close() }, nil
}
