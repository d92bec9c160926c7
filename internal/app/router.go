package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/bizledger/internal/auth"
	"github.com/odyssey-erp/bizledger/internal/employees"
	"github.com/odyssey-erp/bizledger/internal/expenses"
	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/observability"
	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/rbac"
	"github.com/odyssey-erp/bizledger/internal/shared"
	"github.com/odyssey-erp/bizledger/jobs"
)

// Pinger reports backing store liveness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Authenticator  auth.Authenticator
	Metrics        *observability.Metrics
	Health         []Pinger

	AuthHandler        *auth.Handler
	LedgerHandler      *ledger.Handler
	ExpensesHandler    *expenses.Handler
	EmployeesHandler   *employees.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthz(params.Health, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.Authenticator.Middleware)
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePrincipal)
			if params.LedgerHandler != nil {
				params.LedgerHandler.MountRoutes(r)
			}
			if params.ExpensesHandler != nil {
				params.ExpensesHandler.MountRoutes(r)
			}
			if params.EmployeesHandler != nil {
				params.EmployeesHandler.MountRoutes(r)
			}
			if params.PermissionsHandler != nil {
				params.PermissionsHandler.MountRoutes(r)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	return r
}

func healthz(checks []Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
