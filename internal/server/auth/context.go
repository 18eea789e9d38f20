package auth

import (
	"context"

	"github.com/dmitrijs2005/metta/internal/server/models"
)

// Identifier resolves an access token to the identity it was issued for.
// Both the HTTP and the gRPC transports authenticate through it.
type Identifier interface {
	Identify(ctx context.Context, accessToken string) (*models.Identity, error)
}

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity attached by WithIdentity, or nil.
func IdentityFrom(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(identityKey).(*models.Identity)
	return id
}
