package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizledger/internal/shared"
)

type stubSource struct {
	perms []string
	err   error
}

func (s stubSource) EffectivePermissions(context.Context, int64) ([]string, error) {
	return s.perms, s.err
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, withPrincipal bool) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if withPrincipal {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 7, CompanyID: 1}))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRequireAny(t *testing.T) {
	m := Middleware{Service: stubSource{perms: []string{"Ledger.View"}}}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermLedgerView, shared.PermLedgerPost), true))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(shared.PermLedgerPost), true))
	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireAny(shared.PermLedgerView), false))
}

func TestRequireAll(t *testing.T) {
	m := Middleware{Service: stubSource{perms: []string{shared.PermExpensesView, shared.PermExpensesCreate}}}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(shared.PermExpensesView, shared.PermExpensesCreate), true))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(shared.PermExpensesView, shared.PermExpensesApprove), true))
}

func TestRequireSourceFailure(t *testing.T) {
	m := Middleware{Service: stubSource{err: errors.New("db down")}}
	require.Equal(t, http.StatusInternalServerError, serve(t, m.RequireAny(shared.PermLedgerView), true))
}

func TestNormalizePermissionsDedupes(t *testing.T) {
	require.Equal(t, []string{"ledger.view", "ledger.post"}, normalizePermissions([]string{" Ledger.View", "", "ledger.post", "LEDGER.VIEW"}))
}

func TestWildcardGrant(t *testing.T) {
	g := newGrants([]string{"expenses.*"})
	require.True(t, g.Has(shared.PermExpensesApprove))
	require.False(t, g.Has(shared.PermLedgerView))
	require.True(t, newGrants([]string{"ledger.*"}).Has(shared.PermAccountsManage))

	m := Middleware{Service: stubSource{perms: []string{"ledger.*"}}}
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(shared.PermLedgerView, shared.PermLedgerPost), true))
}

type guardCountingSource struct{ calls int }

func (c *guardCountingSource) EffectivePermissions(context.Context, int64) ([]string, error) {
	c.calls++
	return []string{shared.PermLedgerView, shared.PermLedgerPost}, nil
}

func TestStackedGuardsResolveOnce(t *testing.T) {
	src := &guardCountingSource{}
	m := Middleware{Service: src}
	stacked := func(next http.Handler) http.Handler {
		return m.RequireAny(shared.PermLedgerView)(m.RequireAny(shared.PermLedgerPost)(next))
	}
	require.Equal(t, http.StatusNoContent, serve(t, stacked, true))
	require.Equal(t, 1, src.calls)
}
