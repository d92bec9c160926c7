package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	tokens         *TokenIssuer
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenIssuer, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		tokens:         tokens,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    int64     `json:"userId"`
	CompanyID int64     `json:"companyId"`
	CSRFToken string    `json:"csrfToken,omitempty"`
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		fields := make([]string, 0)
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
		}
		httpx.RespondError(w, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, strings.Join(fields, ", ")))
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.RespondError(w, fmt.Errorf("%w: email or password is incorrect", httpx.ErrUnauthorized))
		return
	case err != nil:
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	resp := loginResponse{UserID: user.ID, CompanyID: user.CompanyID}
	resp.Token, resp.ExpiresAt, err = h.tokens.Issue(user.Principal())
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Renew(sess)
		sess.Bind(user.ID, user.CompanyID)
		sess.Delete(shared.CSRFSessionKey)
		if resp.CSRFToken, err = h.csrfManager.EnsureToken(r.Context(), sess); err != nil {
			h.logger.Error("ensure csrf token", slog.Any("error", err))
		}
		rec := SessionRecord{
			ID:        sess.ID,
			UserID:    user.ID,
			ExpiresAt: time.Now().Add(h.sessionManager.TTL()),
			IP:        r.RemoteAddr,
			UserAgent: r.UserAgent(),
		}
		if err := h.service.RegisterSession(r.Context(), rec); err != nil {
			h.logger.Warn("register session", slog.Any("error", err))
		}
	}
	h.logger.Info("user logged in", slog.Int64("user_id", user.ID), slog.Int64("company_id", user.CompanyID))
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
