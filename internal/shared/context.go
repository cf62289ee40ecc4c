package shared

import "context"

type principalContextKey struct{}

// ContextWithPrincipal stores the authenticated user id in context.
func ContextWithPrincipal(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, principalContextKey{}, userID)
}

// PrincipalFromContext extracts the authenticated user id from context.
func PrincipalFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(principalContextKey{}).(int64)
	if !ok || userID <= 0 {
		return 0, false
	}
	return userID, true
}
