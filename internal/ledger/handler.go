package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/rbac"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes the ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	idem    shared.IdempotencyClaimer
}

// NewHandler builds Handler instance. idem may be nil to disable
// Idempotency-Key handling.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idem shared.IdempotencyClaimer) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, idem: idem}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerView))
		r.Get("/accounts", h.listAccounts)
		r.Get("/accounts/reconcile", h.reconcile)
		r.Get("/accounts/{id}", h.getAccount)
		r.Get("/summary", h.summary)
		r.Get("/transactions", h.listTransactions)
		r.Get("/transactions/{id}", h.getTransaction)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAccountsManage))
		r.Post("/accounts", h.createAccount)
		r.Delete("/accounts/{id}", h.deleteAccount)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerPost))
		r.Post("/transactions", h.postTransaction)
		r.Delete("/transactions/{id}", h.deleteTransaction)
	})
}

// postingRequest accepts transactionDate as either a date or an RFC3339 timestamp.
type postingRequest struct {
	PostingInput
	TransactionDate string `json:"transactionDate"`
}

func (req postingRequest) input() (PostingInput, error) {
	in := req.PostingInput
	if strings.TrimSpace(req.TransactionDate) != "" {
		d, err := ParseDate(req.TransactionDate)
		if err != nil {
			return PostingInput{}, err
		}
		in.TransactionDate = d
	}
	return in, nil
}

// ParseDate accepts YYYY-MM-DD or RFC3339.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.Parse(dateLayout, raw); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, Validation("invalid date %q, expected YYYY-MM-DD", raw)
}

func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req postingRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	release, err := shared.ClaimIdempotencyKey(r, h.idem, p.CompanyID, "ledger.transactions")
	if err != nil {
		h.fail(w, "claim idempotency key", err)
		return
	}
	result, err := h.service.PostTransaction(r.Context(), p, in)
	if err != nil {
		release()
		h.fail(w, "post transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.DeleteTransaction(r.Context(), p, id)
	if err != nil {
		h.fail(w, "delete transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": id, "accounts": accounts})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	t, err := h.service.GetTransaction(r.Context(), p.CompanyID, id)
	if err != nil {
		h.fail(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
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
	items, total, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	if items == nil {
		items = []Transaction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func filterFromQuery(q url.Values) (TransactionFilter, error) {
	var f TransactionFilter
	if raw := q.Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, Validation("account_id must be a positive integer")
		}
		f.AccountID = &id
	}
	if raw := q.Get("type"); raw != "" {
		t := TransactionType(strings.ToUpper(raw))
		if !t.Valid() {
			return f, Validation("unknown transaction type %q", raw)
		}
		f.Type = &t
	}
	if raw := q.Get("from"); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return f, err
		}
		f.From = &d
	}
	if raw := q.Get("to"); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return f, err
		}
		f.To = &d
	}
	return f, nil
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in CreateAccountInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), p, in)
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteAccount(r.Context(), p, id); err != nil {
		h.fail(w, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), p.CompanyID, id)
	if err != nil {
		h.fail(w, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), p.CompanyID)
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []Account{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": accounts})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	report, err := h.service.Reconcile(r.Context(), p.CompanyID)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), p.CompanyID)
	if err != nil {
		h.fail(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, ErrNoPrincipal)
	}
	return p, ok
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, Validation("invalid id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

// fail maps direct lookups onto 404 and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrTransactionNotFound) {
		err = fmt.Errorf("%w: %s", httpx.ErrNotFound, strings.TrimPrefix(err.Error(), "ledger: "))
	}
	if httpx.StatusFor(err) >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
