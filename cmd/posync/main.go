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

	"github.com/odyssey-erp/posync/internal/app"
	"github.com/odyssey-erp/posync/internal/observability"
	"github.com/odyssey-erp/posync/internal/platform/cache"
	"github.com/odyssey-erp/posync/internal/platform/db"
	"github.com/odyssey-erp/posync/internal/platform/secrets"
	"github.com/odyssey-erp/posync/internal/posync"
	"github.com/odyssey-erp/posync/internal/rbac"
	"github.com/odyssey-erp/posync/internal/shared"
	"github.com/odyssey-erp/posync/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	box, err := secrets.NewBox(cfg.SyncSecretKey)
	if err != nil {
		logger.Error("init secret box", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	repo := posync.NewRepository(dbpool)
	deps := posync.Deps{
		ErrorLog: shared.NewErrorLogStore(dbpool),
		Audit:    shared.NewAuditLogger(dbpool),
		Metrics:  metrics,
		Logger:   logger,
	}

	var enqueuer posync.ExportEnqueuer
	var jobHandler *jobs.Handler
	if redisClient != nil {
		deps.Locker = shared.NewRedisLocker(redisClient, cfg.SyncLockTTL)

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
		deps.Notifier = jobClient
		enqueuer = jobClient

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		logger.Warn("redis disabled, order locks and background jobs are off")
	}

	syncService := posync.NewService(
		repo,
		cfg.RemoteClient(),
		posync.NewConfigSource(repo, box),
		repo,
		cfg.ServiceConfig(),
		deps,
	)
	syncHandler := posync.NewHandler(logger, syncService, enqueuer)

	rbacMiddleware := rbac.Middleware{Service: rbac.NewService(dbpool), Logger: logger, Token: cfg.HookSharedSecret}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SyncHandler:    syncHandler,
		JobHandler:     jobHandler,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("supplier", cfg.SyncTriggerSupplier))
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
