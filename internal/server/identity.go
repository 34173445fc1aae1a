package server

import (
	"context"

	"github.com/quietriver/assistant/internal/domain"
)

// userKey is the context key for the resolved user identity.
type userKey struct{}

// WithUser returns ctx carrying the resolved user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom retrieves the resolved user from context, or nil for
// anonymous requests.
func UserFrom(ctx context.Context) *domain.User {
	if user, ok := ctx.Value(userKey{}).(*domain.User); ok {
		return user
	}
	return nil
}
