package employees

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/rbac"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// Handler serves read-only employee payroll endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers employee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermEmployeesView))
		r.Get("/employees", h.list)
		r.Get("/employees/{id}", h.get)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	list, err := h.service.List(r.Context(), p.CompanyID)
	if err != nil {
		h.logger.Error("list employees", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid employee id", httpx.ErrValidation))
		return
	}
	status, err := h.service.Get(r.Context(), p.CompanyID, id)
	if err != nil {
		if errors.Is(err, ErrEmployeeNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: employee %d", httpx.ErrNotFound, id))
			return
		}
		h.logger.Error("get employee", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}
