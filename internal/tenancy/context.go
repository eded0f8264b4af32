package tenancy

import "context"

type authzContextKey struct{}

// ContextWithAuthorization attaches the resolved authorization to the request
// context.
func ContextWithAuthorization(ctx context.Context, authz Context) context.Context {
	return context.WithValue(ctx, authzContextKey{}, &authz)
}

// AuthorizationFromContext extracts the resolved authorization, if present.
func AuthorizationFromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	v, ok := ctx.Value(authzContextKey{}).(*Context)
	if !ok || v == nil {
		return Context{}, false
	}
	return *v, true
}
