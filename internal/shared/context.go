package shared

import "context"

type sessionContextKey struct{}

type principalContextKey struct{}

// Principal identifies the acting user and the company whose data the
// request may touch. Every ledger lookup is scoped by CompanyID.
type Principal struct {
	UserID    int64
	CompanyID int64
}

// Valid reports whether both identifiers are set.
func (p Principal) Valid() bool {
	return p.UserID > 0 && p.CompanyID > 0
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithPrincipal stores the authenticated principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal and whether one was attached.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || !p.Valid() {
		return Principal{}, false
	}
	return p, true
}
