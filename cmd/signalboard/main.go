package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/signalboard/signalboard/internal/app"
	"github.com/signalboard/signalboard/internal/authz"
	"github.com/signalboard/signalboard/internal/observability"
	"github.com/signalboard/signalboard/internal/platform/cache"
	"github.com/signalboard/signalboard/internal/platform/db"
	"github.com/signalboard/signalboard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	store := authz.NewPGStore(pool)
	metrics := observability.NewMetrics()

	var resolutionCache authz.ResolutionCache
	switch cfg.CacheBackend {
	case "memory":
		memCache := authz.NewMemoryCache()
		memCache.StartSweeper(ctx, cfg.CacheSweep)
		resolutionCache = memCache
	default:
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		resolutionCache = authz.NewRedisCache(redisClient)
	}

	resolver := authz.NewResolver(authz.ResolverConfig{
		Assignments: store,
		Roles:       store,
		Grants:      store,
		Cache:       resolutionCache,
		TTL:         cfg.CacheTTL,
		Logger:      logger,
		Metrics:     metrics,
	})
	recorder := authz.NewRecorder(store, logger)
	checker := authz.NewChecker(authz.CheckerConfig{
		Resolver:    resolver,
		Audit:       recorder,
		Memberships: store,
		Metrics:     metrics,
		Logger:      logger,
	})
	admin := authz.NewAdmin(authz.AdminConfig{
		Roles:       store,
		Permissions: store,
		Assignments: store,
		Resolver:    resolver,
		Audit:       recorder,
		Logger:      logger,
	})

	guard := authz.Middleware{Checker: checker, Logger: logger}
	authzHandler := authz.NewHandler(logger, checker)
	adminHandler := authz.NewAdminHandler(logger, admin)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthzHandler: authzHandler,
		AdminHandler: adminHandler,
		Guard:        guard,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
