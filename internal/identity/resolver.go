package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

// Resolver maps a signed-in identity to its merchant. It only reads; links
// are written by ReconcileLink.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger.With("component", "resolver")}
}

// ResolveMerchant tries the caller's own link through the restricted store,
// then falls back to a privileged lookup by email when the link is missing
// or the link column does not exist. "Not linked" and "not a merchant" both
// return nil, nil. The only error is an unreachable backend on the fallback,
// so callers can tell an outage from a stranger.
func (r *Resolver) ResolveMerchant(ctx context.Context, restricted backend.Store, priv backend.Privileged, identityID, email string) (*model.Merchant, error) {
	if identityID != "" && restricted != nil {
		m, err := store.NewMerchantStore(restricted).GetByIdentityID(ctx, identityID)
		switch {
		case err == nil && m != nil:
			return m, nil
		case errors.Is(err, backend.ErrColumnNotFound):
			r.logger.Debug("merchant link column missing, using email fallback", "identity_id", identityID)
		case err != nil:
			r.logger.Warn("linked merchant lookup failed, using email fallback", "identity_id", identityID, "error", err)
		}
	}

	email = store.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	m, err := store.NewMerchantStore(priv.For("resolve merchant by email")).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, backend.ErrBackendUnavailable) {
			return nil, fmt.Errorf("resolve merchant: %w", err)
		}
		r.logger.Warn("merchant email lookup failed", "email", email, "error", err)
		return nil, nil
	}
	return m, nil
}

// ReconcileLink points the merchant at identityID. It is a no-op when the
// link is already correct and fails with backend.ErrColumnNotFound when the
// schema has no link column.
func ReconcileLink(ctx context.Context, priv backend.Privileged, m *model.Merchant, identityID string) error {
	if m == nil || identityID == "" {
		return fmt.Errorf("reconcile link: %w", backend.ErrInvalidInput)
	}
	if m.Linked(identityID) {
		return nil
	}
	if err := store.NewMerchantStore(priv.For("reconcile merchant link")).LinkIdentity(ctx, m.ID, identityID); err != nil {
		return fmt.Errorf("reconcile link: %w", err)
	}
	m.IdentityID = &identityID
	return nil
}
