package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// PermissionSource resolves the permissions granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Middleware guards routes by permission. With a nil Service every check
// passes, which is how handler tests mount routes without RBAC.
type Middleware struct {
	Service PermissionSource
	Logger  *slog.Logger
}

// RequireAny passes when the principal holds at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.guard(normalizePermissions(perms), false)
}

// RequireAll passes when the principal holds every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.guard(normalizePermissions(perms), true)
}

type grantsKey struct{}

// Grants is a resolved permission set. A grant ending in ".*" covers every
// permission under that prefix.
type Grants map[string]struct{}

func newGrants(perms []string) Grants {
	g := make(Grants, len(perms))
	for _, p := range perms {
		g[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return g
}

// Has reports whether perm is granted directly or through a wildcard.
func (g Grants) Has(perm string) bool {
	if _, ok := g[perm]; ok {
		return true
	}
	for i := strings.LastIndexByte(perm, '.'); i > 0; i = strings.LastIndexByte(perm[:i], '.') {
		if _, ok := g[perm[:i]+".*"]; ok {
			return true
		}
	}
	return false
}

func (m Middleware) guard(required []string, all bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 || m.Service == nil {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			ctx := r.Context()
			grants, cached := ctx.Value(grantsKey{}).(Grants)
			if !cached {
				perms, err := m.Service.EffectivePermissions(ctx, p.UserID)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("resolve permissions", slog.Int64("user_id", p.UserID), slog.Any("error", err))
					}
					httpx.RespondError(w, err)
					return
				}
				grants = newGrants(perms)
				ctx = context.WithValue(ctx, grantsKey{}, grants)
			}
			if missing := check(grants, required, all); missing != "" {
				httpx.RespondError(w, fmt.Errorf("%w: requires %s", httpx.ErrForbidden, missing))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// check returns "" when grants satisfy required, else the unmet requirement.
func check(grants Grants, required []string, all bool) string {
	for _, perm := range required {
		has := grants.Has(perm)
		if all && !has {
			return perm
		}
		if !all && has {
			return ""
		}
	}
	if all {
		return ""
	}
	return strings.Join(required, " or ")
}

func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	seen := make(map[string]bool, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
