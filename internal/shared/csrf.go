package shared

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	// CSRFSessionKey stores the issued token inside the session.
	CSRFSessionKey = "csrf_token"
	// CSRFHeader carries the token on cookie-authenticated writes.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues tokens of the form nonce.mac where mac signs the
// session id and nonce, so a token only verifies for the session it was
// issued to.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager keys token signatures with secret.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session's token, minting one when it is absent or
// was signed for a previous session id.
func (m *CSRFManager) EnsureToken(_ context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("shared: csrf needs a session")
	}
	if token := sess.Get(CSRFSessionKey); token != "" && m.signedFor(sess.ID, token) {
		return token, nil
	}
	nonce := make([]byte, 18)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(nonce)
	token := encoded + "." + m.sign(sess.ID, encoded)
	sess.Set(CSRFSessionKey, token)
	return token, nil
}

// VerifyToken checks token against the one stored in sess.
func (m *CSRFManager) VerifyToken(_ context.Context, sess *Session, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFTokenMissing
	}
	stored := sess.Get(CSRFSessionKey)
	if stored == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(stored), []byte(token)) || !m.signedFor(sess.ID, token) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) sign(sessionID, nonce string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *CSRFManager) signedFor(sessionID, token string) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(m.sign(sessionID, nonce)))
}
