package authz

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the resolved permissions of the authenticated
// caller to the context.
func ContextWithPrincipal(ctx context.Context, up UserPermissions) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &up)
}

// PrincipalFromContext extracts the caller's aggregated permissions. The
// second return is false when the request was not authenticated.
func PrincipalFromContext(ctx context.Context) (*UserPermissions, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*UserPermissions)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
