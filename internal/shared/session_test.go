package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", time.Hour, false), mr
}

func TestSessionRoundTripKeepsPrincipal(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	_, ok := sess.Principal()
	assert.False(t, ok)

	sess.Bind(7, 3)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, next)
	require.NoError(t, err)
	p, ok := loaded.Principal()
	require.True(t, ok)
	assert.Equal(t, Principal{UserID: 7, CompanyID: 3}, p)
}

func TestSessionAnonymousNotPersisted(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))

	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, mr.Keys())
}

func TestSessionRenewDropsOldID(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("k", "v")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: oldID})
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sm.Renew(loaded)
	loaded.Bind(1, 1)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), loaded))

	assert.NotEqual(t, oldID, loaded.ID)
	assert.False(t, mr.Exists("session:"+oldID))
	assert.True(t, mr.Exists("session:"+loaded.ID))
}

func TestCSRFVerify(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	csrf := NewCSRFManager("secret")
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	token, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(context.Background(), sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, "forged"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, ""), ErrCSRFTokenMissing)
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	csrf := NewCSRFManager("secret")
	first, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	second, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	token, err := csrf.EnsureToken(context.Background(), first)
	require.NoError(t, err)

	// A token planted in another session does not verify there.
	second.Set(CSRFSessionKey, token)
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), second, token), ErrCSRFTokenMismatch)

	// EnsureToken replaces the foreign token.
	fresh, err := csrf.EnsureToken(context.Background(), second)
	require.NoError(t, err)
	assert.NotEqual(t, token, fresh)
	assert.NoError(t, csrf.VerifyToken(context.Background(), second, fresh))
}

func TestSessionLoadSlidesExpiry(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Bind(2, 1)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))

	mr.FastForward(50 * time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: sess.ID})
	_, err = sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("session:"+sess.ID))

	mr.FastForward(2 * time.Hour)
	fresh, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, fresh.ID)
}
