package expenses

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/rbac"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// Handler exposes expenses over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	idem    shared.IdempotencyClaimer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idem shared.IdempotencyClaimer) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, idem: idem}
}

// MountRoutes registers expense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermExpensesView))
		r.Get("/expenses", h.list)
		r.Get("/expenses/{id}", h.get)
		r.Get("/expenses/{id}/approvals", h.approvals)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermExpensesCreate))
		r.Post("/expenses", h.create)
		r.Delete("/expenses/{id}", h.delete)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermExpensesApprove))
		r.Post("/expenses/{id}/approve", h.approve)
	})
}

type createRequest struct {
	CreateInput
	ExpenseDate string `json:"expenseDate"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := req.CreateInput
	if strings.TrimSpace(req.ExpenseDate) != "" {
		d, err := ledger.ParseDate(req.ExpenseDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.ExpenseDate = d
	}
	release, err := shared.ClaimIdempotencyKey(r, h.idem, p.CompanyID, "expenses")
	if err != nil {
		h.fail(w, "claim idempotency key", err)
		return
	}
	e, err := h.service.CreateExpense(r.Context(), p, in)
	if err != nil {
		release()
		h.fail(w, "create expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteExpense(r.Context(), p, id); err != nil {
		h.fail(w, "delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in ApproveInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.ApproveExpense(r.Context(), p, id, in)
	if err != nil {
		h.fail(w, "approve expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.service.GetExpense(r.Context(), p.CompanyID, id)
	if err != nil {
		h.fail(w, "get expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.Approvals(r.Context(), p.CompanyID, id)
	if err != nil {
		h.fail(w, "expense approvals", err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": logs})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter, err := filterFromQuery(q)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, perPage := shared.PageFromQuery(q)
	pager := shared.NewPagination(page, perPage, 0)
	filter.CompanyID = p.CompanyID
	filter.Limit = pager.PerPage
	filter.Offset = pager.Offset()
	items, total, err := h.service.ListExpenses(r.Context(), filter)
	if err != nil {
		h.fail(w, "list expenses", err)
		return
	}
	if items == nil {
		items = []Expense{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func filterFromQuery(q url.Values) (ListFilter, error) {
	var f ListFilter
	if raw := q.Get("category"); raw != "" {
		c, ok := ParseCategory(raw)
		if !ok {
			return f, ledger.Validation("unknown expense category %q", raw)
		}
		f.Category = &c
	}
	if raw := q.Get("approved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, ledger.Validation("approved must be true or false")
		}
		f.Approved = &v
	}
	if raw := q.Get("employee_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, ledger.Validation("employee_id must be a positive integer")
		}
		f.EmployeeID = &id
	}
	return f, nil
}

func principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, ledger.ErrNoPrincipal)
	}
	return p, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, ledger.Validation("invalid expense id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrExpenseNotFound) {
		err = fmt.Errorf("%w: %s", httpx.ErrNotFound, strings.TrimPrefix(err.Error(), "expenses: "))
	}
	if httpx.StatusFor(err) >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
