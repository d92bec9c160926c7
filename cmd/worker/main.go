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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/bizledger/internal/app"
	"github.com/odyssey-erp/bizledger/internal/employees"
	jobmetrics "github.com/odyssey-erp/bizledger/internal/jobs"
	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/platform/db"
	"github.com/odyssey-erp/bizledger/internal/shared"
	"github.com/odyssey-erp/bizledger/jobs"
)

func main() {
	if app.SkipStartup("worker") {
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool))
	employeeService := employees.NewService(employees.NewRepository(pool), logger)

	reconcile := jobs.NewReconcileJob(ledgerService, logger, metrics)
	rollover := jobs.NewRolloverJob(employeeService, logger, metrics)
	purge := &jobs.PurgeJob{Keys: shared.NewIdempotencyStore(pool), Logger: logger, Metrics: metrics}

	cron, err := jobs.DefaultCron()
	if err != nil {
		logger.Error("build cron tasks", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerReconcile, Handler: reconcile.Handle},
			{Type: jobs.TaskPayrollRollover, Handler: rollover.Handle},
			{Type: jobs.TaskIdempotencyPurge, Handler: purge.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			_ = metricsServer.Close()
		}()
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
