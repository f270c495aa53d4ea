package shared

import "context"

// Principal is the authenticated actor of a request. Token is forwarded to
// the remote store when one is configured.
type Principal struct {
	UserID int64
	Token  string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.UserID == 0 {
		return Principal{}, false
	}
	return p, true
}
