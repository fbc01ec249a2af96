package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"manulmonday/economy/internal/config"
	"manulmonday/economy/internal/handler"
	"manulmonday/economy/internal/logger"
	"manulmonday/economy/internal/repository"
	"manulmonday/economy/internal/service"
	"manulmonday/economy/internal/service/content"
)

type store interface {
	service.Ledger
	service.Catalog
	service.Quizzes
	service.CatalogWriter
}

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Dev: cfg.Log.Dev})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Setup store
	var st store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		zl.Warn("using in-memory store, data is lost on restart")
		st = repository.NewMemoryStore()
	default:
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("failed to connect to database", zap.Error(err))
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			zl.Fatal("failed to ping database", zap.Error(err))
		}
		pg := repository.NewPostgresStore(dbPool)
		if err := pg.Migrate(ctx); err != nil {
			zl.Fatal("failed to apply schema", zap.Error(err))
		}
		zl.Info("connected to database")
		st = pg
	}

	// 3. Setup logic
	cache := service.NewCatalogCache(st, st, cfg.CatalogCacheTTL, cfg.StoreTimeout)
	economy := service.NewEconomyService(st, cache, cache, service.Options{
		StoreTimeout: cfg.StoreTimeout,
		MaxAttempts:  cfg.StoreMaxAttempts,
	}, zl.Named("economy"))
	catalog := service.NewCatalogService(cache, cache, cfg.StoreTimeout, time.Now)

	if cfg.ContentSyncEnabled() {
		client := content.NewClient(content.Config{
			APIURL:   cfg.Content.APIURL,
			ClientID: cfg.Content.ClientID,
			APIKey:   cfg.Content.APIKey,
		})
		syncer := service.NewCatalogSyncer(client, st, cache, cfg.StoreTimeout, zl.Named("catalog_sync"))
		go syncer.Run(ctx, cfg.Content.SyncInterval)
	}

	limiter := handler.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, zl.Named("ratelimit"))
	limiter.StartCleanup(ctx, 10*time.Minute)

	h := handler.NewHandler(
		handler.NewEconomyHandler(economy, zl.Named("http")),
		handler.NewCatalogHandler(catalog, zl.Named("http")),
		handler.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer),
		limiter,
		zl.Named("http"),
	)

	// 4. Setup server
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 5. Run server with graceful shutdown
	go func() {
		zl.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}

	zl.Info("server exiting")
}
