package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/signalboard/signalboard/internal/app"
	"github.com/signalboard/signalboard/internal/authz"
	"github.com/signalboard/signalboard/internal/platform/cache"
	"github.com/signalboard/signalboard/internal/platform/db"
	"github.com/signalboard/signalboard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	store := authz.NewPGStore(pool)
	resolver := authz.NewResolver(authz.ResolverConfig{
		Assignments: store,
		Roles:       store,
		Grants:      store,
		Cache:       authz.NewRedisCache(redisClient),
		TTL:         cfg.CacheTTL,
		Logger:      logger,
	})
	recorder := authz.NewRecorder(store, logger)
	admin := authz.NewAdmin(authz.AdminConfig{
		Roles:       store,
		Permissions: store,
		Assignments: store,
		Resolver:    resolver,
		Audit:       recorder,
		Logger:      logger,
	})

	sweepTask, err := jobs.NewSweepExpiredTask(jobs.SweepExpiredPayload{Reason: "scheduled"})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuthzSweepExpired, Handler: jobs.NewSweepExpiredHandler(admin, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
