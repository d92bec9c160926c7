package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizledger/internal/auth"
	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/bizledger/internal/rbac"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

type stack struct {
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
	tokens   *auth.TokenIssuer
	cfg      *Config
}

func newStack(t *testing.T) stack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return stack{
		sessions: shared.NewSessionManager(client, "bizledger_session", time.Hour, false),
		csrf:     shared.NewCSRFManager("csrf-secret"),
		tokens:   auth.NewTokenIssuer("jwt-secret", time.Hour),
		cfg:      &Config{AppEnv: "test", RateLimitPerMinute: 1000},
	}
}

func (s stack) router(extra func(chi.Router), health ...Pinger) http.Handler {
	r := NewRouter(RouterParams{
		Logger:         newLogger(s.cfg, discard{}),
		Config:         s.cfg,
		SessionManager: s.sessions,
		CSRFManager:    s.csrf,
		Authenticator:  auth.Authenticator{Tokens: s.tokens},
		Health:         health,
	})
	if extra != nil {
		extra(r.(chi.Router))
	}
	return r
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	s := newStack(t)

	rec := httptest.NewRecorder()
	s.router(nil, pinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.router(nil, pinger{err: errors.New("down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRouteIsProblemJSON(t *testing.T) {
	s := newStack(t)
	h := s.router(nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestSecureHeadersApplied(t *testing.T) {
	s := newStack(t)
	rec := httptest.NewRecorder()
	s.router(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

// csrfHarness mounts a write endpoint behind the full middleware stack.
func csrfHarness(t *testing.T) (stack, http.Handler) {
	t.Helper()
	s := newStack(t)
	h := s.router(func(r chi.Router) {
		r.Get("/session", func(w http.ResponseWriter, req *http.Request) {
			sess := shared.SessionFromContext(req.Context())
			token, err := s.csrf.EnsureToken(req.Context(), sess)
			require.NoError(t, err)
			_, _ = w.Write([]byte(token))
		})
		r.Post("/write", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return s, h
}

func TestCSRFGuardsCookieWrites(t *testing.T) {
	_, h := csrfHarness(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	token := rec.Body.String()

	post := func(withToken bool) int {
		req := httptest.NewRequest(http.MethodPost, "/write", nil)
		req.AddCookie(cookies[0])
		if withToken {
			req.Header.Set(shared.CSRFHeader, token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusForbidden, post(false))
	assert.Equal(t, http.StatusNoContent, post(true))
}

func TestCSRFSkipsBearerAndCookielessWrites(t *testing.T) {
	s, h := csrfHarness(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/write", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	token, _, err := s.tokens.Issue(shared.Principal{UserID: 1, CompanyID: 1})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/write", nil)
	req.AddCookie(&http.Cookie{Name: "bizledger_session", Value: "stale"})
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConfigValidation(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("JWT_SECRET", "too-short")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "jwt secret")

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.False(t, cfg.IsProduction())
}

func TestLedgerMountedBehindAuthentication(t *testing.T) {
	s := newStack(t)
	store := ledgertest.NewStore()
	store.AddAccount(ledger.Account{CompanyID: 1, Name: "Till", Type: ledger.AccountCash, Currency: "KES", Balance: decimal.Zero})
	store.AddAccount(ledger.Account{CompanyID: 2, Name: "Other", Type: ledger.AccountCash, Currency: "KES", Balance: decimal.Zero})

	h := NewRouter(RouterParams{
		Logger:         newLogger(s.cfg, discard{}),
		Config:         s.cfg,
		SessionManager: s.sessions,
		CSRFManager:    s.csrf,
		Authenticator:  auth.Authenticator{Tokens: s.tokens},
		LedgerHandler:  ledger.NewHandler(nil, ledger.NewService(store, nil), rbac.Middleware{}, nil),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := s.tokens.Issue(shared.Principal{UserID: 10, CompanyID: 1})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Till"`)
	assert.NotContains(t, rec.Body.String(), `"Other"`)
}
