package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// SessionManager stores cookie sessions in Redis with a sliding TTL.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewSessionManager builds a manager; secure marks cookies Secure.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Session is the per-request view of a stored session. Only sessions that
// were written to are persisted.
type Session struct {
	ID string

	state     sessionState
	fresh     bool
	dirty     bool
	destroyed bool
	// previous id to drop on commit after Renew
	rotatedFrom string
}

type sessionState struct {
	Values    map[string]string `json:"values,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
	CompanyID int64             `json:"company_id,omitempty"`
}

func (sm *SessionManager) key(id string) string { return sessionKeyPrefix + id }

// TTL is the idle lifetime of a session.
func (sm *SessionManager) TTL() time.Duration { return sm.ttl }

// CookieName is the name of the session cookie.
func (sm *SessionManager) CookieName() string { return sm.cookieName }

// HasCookie reports whether r carries a non-empty session cookie.
func (sm *SessionManager) HasCookie(r *http.Request) bool {
	c, err := r.Cookie(sm.cookieName)
	return err == nil && c.Value != ""
}

// Load resolves the request's session, refreshing its TTL. Missing or
// unknown ids yield a fresh session with a server-chosen id.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && c.Value == "") {
		return newSession(), nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := sm.client.GetEx(ctx, sm.key(c.Value), sm.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return newSession(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("shared: load session: %w", err)
	}

	sess := &Session{ID: c.Value}
	if err := json.Unmarshal(raw, &sess.state); err != nil {
		return nil, fmt.Errorf("shared: decode session: %w", err)
	}
	return sess, nil
}

// Commit writes the session back and sets or clears the cookie.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		ids := []string{sm.key(sess.ID)}
		if sess.rotatedFrom != "" {
			ids = append(ids, sm.key(sess.rotatedFrom))
		}
		if err := sm.client.Del(ctx, ids...).Err(); err != nil {
			return fmt.Errorf("shared: destroy session: %w", err)
		}
		sm.writeCookie(w, "", -1)
		return nil
	}
	if !sess.dirty {
		return nil
	}

	data, err := json.Marshal(sess.state)
	if err != nil {
		return err
	}
	_, err = sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if sess.rotatedFrom != "" {
			pipe.Del(ctx, sm.key(sess.rotatedFrom))
		}
		pipe.Set(ctx, sm.key(sess.ID), data, sm.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("shared: save session: %w", err)
	}
	sess.rotatedFrom = ""
	sess.dirty = false
	sess.fresh = false
	sm.writeCookie(w, sess.ID, int(sm.ttl.Seconds()))
	return nil
}

func (sm *SessionManager) writeCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Destroy deletes the session on the next Commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// Renew gives the session a new id; the old key is removed on Commit.
func (sm *SessionManager) Renew(sess *Session) {
	if sess == nil {
		return
	}
	if !sess.fresh && sess.rotatedFrom == "" {
		sess.rotatedFrom = sess.ID
	}
	sess.ID = uuid.NewString()
	sess.dirty = true
}

func newSession() *Session {
	return &Session{ID: uuid.NewString(), fresh: true}
}

func (s *Session) Get(key string) string {
	return s.state.Values[key]
}

func (s *Session) Set(key, value string) {
	if s.state.Values == nil {
		s.state.Values = make(map[string]string)
	}
	s.state.Values[key] = value
	s.dirty = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.state.Values[key]; !ok {
		return
	}
	delete(s.state.Values, key)
	s.dirty = true
}

// Bind attaches the logged-in user and their company.
func (s *Session) Bind(userID, companyID int64) {
	s.state.UserID = userID
	s.state.CompanyID = companyID
	s.dirty = true
}

// Principal returns the bound principal and whether one is bound.
func (s *Session) Principal() (Principal, bool) {
	p := Principal{UserID: s.state.UserID, CompanyID: s.state.CompanyID}
	return p, p.Valid()
}
