package handlers

import (
	"context"

	"github.com/subfetch/subfetch/internal/models"
)

type contextKey string

const userContextKey contextKey = "subfetch.user"

// WithUser attaches the authenticated user to the request context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFrom returns the authenticated user, or nil for unauthenticated paths.
func UserFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}
