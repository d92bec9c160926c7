package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// PermissionsHandler exposes permission lookups.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	source  PermissionSource
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service) *PermissionsHandler {
	h := &PermissionsHandler{logger: logger, service: service}
	if service != nil {
		h.source = service
	}
	return h
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.listPermissions)
	r.Get("/me/permissions", h.myPermissions)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": perms})
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	granted, err := h.source.EffectivePermissions(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("effective permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if granted == nil {
		granted = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": p.UserID, "companyId": p.CompanyID, "permissions": granted})
}
