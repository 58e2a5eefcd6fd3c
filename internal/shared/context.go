package shared

import "context"

type userContextKey struct{}

// ContextWithUser stores the resolved identity in context.
func ContextWithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the identity from context. The second return
// is false for anonymous requests.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}
