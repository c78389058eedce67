// Package auth carries the authenticated caller through a request context.
package auth

import (
	"context"

	"github.com/dukerupert/mise/internal/model"
)

type contextKey struct{}

// Principal is the signed-in caller. Merchant is set on merchant routes,
// Admin on admin routes.
type Principal struct {
	IdentityID   string
	Email        string
	SessionToken string
	Merchant     *model.Merchant
	Admin        bool
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// Merchant returns the resolved merchant or nil.
func Merchant(ctx context.Context) *model.Merchant {
	p, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return p.Merchant
}

func IdentityID(ctx context.Context) string {
	p, _ := FromContext(ctx)
	return p.IdentityID
}

func IsAdmin(ctx context.Context) bool {
	p, ok := FromContext(ctx)
	return ok && p.Admin
}
