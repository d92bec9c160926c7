package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizledger/internal/shared"
)

type fakeRepo struct {
	mu       sync.Mutex
	users    map[string]User
	sessions map[string]int64
	lookup   error
}

func newFakeRepo(t *testing.T) *fakeRepo {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	return &fakeRepo{
		users: map[string]User{
			"alice@example.com": {ID: 10, CompanyID: 1, Email: "alice@example.com", PasswordHash: hash, IsActive: true},
			"gone@example.com":  {ID: 11, CompanyID: 1, Email: "gone@example.com", PasswordHash: hash, IsActive: false},
		},
		sessions: map[string]int64{},
	}
}

func (f *fakeRepo) FindByEmail(_ context.Context, email string) (User, error) {
	if f.lookup != nil {
		return User{}, f.lookup
	}
	u, ok := f.users[strings.ToLower(email)]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) CreateSession(_ context.Context, rec SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[rec.ID] = rec.UserID
	return nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

type fixture struct {
	router   http.Handler
	repo     *fakeRepo
	tokens   *TokenIssuer
	sessions *shared.SessionManager
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := shared.NewSessionManager(client, "bizledger_session", time.Hour, false)
	repo := newFakeRepo(t)
	tokens := NewTokenIssuer("test-secret", time.Hour)
	handler := NewHandler(nil, NewService(repo), tokens, sessions, shared.NewCSRFManager("csrf-secret"))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
			require.NoError(t, sessions.Commit(req.Context(), httptest.NewRecorder(), sess))
		})
	})
	r.Use(Authenticator{Tokens: tokens}.Middleware)
	r.Route("/auth", handler.MountRoutes)
	r.With(RequirePrincipal).Get("/whoami", func(w http.ResponseWriter, req *http.Request) {
		p, _ := shared.PrincipalFromContext(req.Context())
		_ = json.NewEncoder(w).Encode(p)
	})
	return &fixture{router: r, repo: repo, tokens: tokens, sessions: sessions, redis: mr}
}

func (f *fixture) login(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, expires, err := issuer.Issue(shared.Principal{UserID: 5, CompanyID: 2})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	p, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, shared.Principal{UserID: 5, CompanyID: 2}, p)

	_, err = NewTokenIssuer("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestTokenRejectsExpiredAndUnsigned(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := issuer.Issue(shared.Principal{UserID: 5, CompanyID: 2})
	require.NoError(t, err)
	_, err = NewTokenIssuer("secret", time.Minute).Parse(stale)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		CompanyID:      2,
		StandardClaims: jwt.StandardClaims{Subject: "5", Issuer: tokenIssuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Parse(unsigned)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestLoginIssuesTokenAndBindsSession(t *testing.T) {
	f := newFixture(t)

	rec := f.login(t, "Alice@Example.com", "correct-horse")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(10), resp.UserID)
	assert.Equal(t, int64(1), resp.CompanyID)
	assert.NotEmpty(t, resp.CSRFToken)

	p, err := f.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, shared.Principal{UserID: 10, CompanyID: 1}, p)

	assert.Len(t, f.repo.sessions, 1)
	assert.Len(t, f.redis.Keys(), 1)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	cases := map[string]struct {
		email, password string
		status          int
	}{
		"wrong password": {"alice@example.com", "wrong-password", http.StatusUnauthorized},
		"unknown user":   {"nobody@example.com", "correct-horse", http.StatusUnauthorized},
		"inactive user":  {"gone@example.com", "correct-horse", http.StatusUnauthorized},
		"malformed":      {"not-an-email", "correct-horse", http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.login(t, tc.email, tc.password)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Empty(t, f.repo.sessions)
}

func TestAuthenticateSurfacesStorageFailure(t *testing.T) {
	repo := newFakeRepo(t)
	svc := NewService(repo)

	u, err := svc.Authenticate(context.Background(), "  ALICE@example.com ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, shared.Principal{UserID: 10, CompanyID: 1}, u.Principal())

	repo.lookup = errors.New("connection reset")
	_, err = svc.Authenticate(context.Background(), "alice@example.com", "correct-horse")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestBearerTokenResolvesPrincipal(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.tokens.Issue(shared.Principal{UserID: 10, CompanyID: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var p shared.Principal
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, shared.Principal{UserID: 10, CompanyID: 1}, p)
}

func TestAnonymousAndForgedRequestsRejected(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer forged.token.value")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHasBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, HasBearer(req))
	req.Header.Set("Authorization", "bearer abc")
	assert.True(t, HasBearer(req))
	req.Header.Set("Authorization", "Basic abc")
	assert.False(t, HasBearer(req))
}
