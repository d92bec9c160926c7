package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// HasBearer reports whether the request authenticates with a bearer token.
func HasBearer(r *http.Request) bool {
	_, ok := bearerToken(r)
	return ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// Authenticator resolves the request principal from a bearer token or the
// session cookie.
type Authenticator struct {
	Tokens *TokenIssuer
	Logger *slog.Logger
}

// Middleware attaches the principal to the request context. An invalid
// bearer token is rejected outright; a missing one falls back to the session.
func (a Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := bearerToken(r); ok {
			p, err := a.Tokens.Parse(raw)
			if err != nil {
				if a.Logger != nil {
					a.Logger.Warn("bearer token rejected", slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
			return
		}
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			if p, ok := sess.Principal(); ok {
				r = r.WithContext(shared.ContextWithPrincipal(r.Context(), p))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePrincipal rejects anonymous requests with 401.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
