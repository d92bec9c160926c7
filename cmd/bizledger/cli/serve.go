package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/bizledger/internal/app"
	"github.com/odyssey-erp/bizledger/internal/auth"
	"github.com/odyssey-erp/bizledger/internal/employees"
	"github.com/odyssey-erp/bizledger/internal/expenses"
	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/observability"
	"github.com/odyssey-erp/bizledger/internal/platform/cache"
	"github.com/odyssey-erp/bizledger/internal/platform/db"
	"github.com/odyssey-erp/bizledger/internal/rbac"
	"github.com/odyssey-erp/bizledger/internal/shared"
	"github.com/odyssey-erp/bizledger/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "bizledger_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{
		Service: rbac.CachedSource{Source: rbacService, Client: redisClient, TTL: time.Minute, Logger: logger},
		Logger:  logger,
	}

	authService := auth.NewService(auth.NewRepository(dbpool))

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), auditLogger)
	ledgerService.WithObserver(observability.NewLedgerMetrics(metrics.Registerer()))

	expenseService := expenses.NewService(expenses.NewRepository(dbpool), ledgerService, auditLogger, approvalRecorder)
	employeeService := employees.NewService(employees.NewRepository(dbpool), logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Authenticator:      auth.Authenticator{Tokens: tokens, Logger: logger},
		Metrics:            metrics,
		Health:             []app.Pinger{dbpool, cache.Checker{Client: redisClient}},
		AuthHandler:        auth.NewHandler(logger, authService, tokens, sessionManager, csrfManager),
		LedgerHandler:      ledger.NewHandler(logger, ledgerService, rbacMiddleware, idempotencyStore),
		ExpensesHandler:    expenses.NewHandler(logger, expenseService, rbacMiddleware, idempotencyStore),
		EmployeesHandler:   employees.NewHandler(logger, employeeService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server", slog.Any("error", err))
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
