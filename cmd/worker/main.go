package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/posync/internal/app"
	jobmetrics "github.com/odyssey-erp/posync/internal/jobs"
	"github.com/odyssey-erp/posync/internal/observability"
	"github.com/odyssey-erp/posync/internal/platform/cache"
	"github.com/odyssey-erp/posync/internal/platform/db"
	"github.com/odyssey-erp/posync/internal/platform/secrets"
	"github.com/odyssey-erp/posync/internal/posync"
	"github.com/odyssey-erp/posync/internal/shared"
	"github.com/odyssey-erp/posync/jobs"
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
	if cfg.RedisAddr == "" {
		slog.Default().Error("worker requires REDIS_ADDR")
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
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

	box, err := secrets.NewBox(cfg.SyncSecretKey)
	if err != nil {
		logger.Error("init secret box", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
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

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	repo := posync.NewRepository(pool)
	syncService := posync.NewService(
		repo,
		cfg.RemoteClient(),
		posync.NewConfigSource(repo, box),
		repo,
		cfg.ServiceConfig(),
		posync.Deps{
			ErrorLog: shared.NewErrorLogStore(pool),
			Audit:    shared.NewAuditLogger(pool),
			Locker:   shared.NewRedisLocker(redisClient, cfg.SyncLockTTL),
			Metrics:  metrics,
			Notifier: jobClient,
			Logger:   logger,
		},
	)

	exportJob := jobs.NewSyncExportJob(syncService, logger, jobMetrics)
	mailer := jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	notifyJob := jobs.NewSyncFailureNotifyJob(mailer, cfg.NotifyEmail, logger, jobMetrics)
	pruneJob := jobs.NewErrorLogPruneJob(pool, logger, jobMetrics)

	pruneTask, err := jobs.NewErrorLogPruneTask(cfg.ErrorLogRetentionDays)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSyncExport, Handler: exportJob.Handle},
			{Type: jobs.TaskSyncFailureNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskErrorLogPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
