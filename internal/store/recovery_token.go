package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
)

const recoveryTokensTable = "recovery_tokens"

// RecoveryTokenStore holds single-use password setup tokens.
type RecoveryTokenStore struct {
	s backend.Store
}

func NewRecoveryTokenStore(s backend.Store) *RecoveryTokenStore {
	return &RecoveryTokenStore{s: s}
}

func (s *RecoveryTokenStore) Create(ctx context.Context, identityID, purpose string, ttl time.Duration) (*model.RecoveryToken, error) {
	token, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rt := &model.RecoveryToken{
		Token:      token,
		IdentityID: identityID,
		Purpose:    purpose,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	err = s.s.Insert(ctx, recoveryTokensTable, backend.Row{
		"token":       rt.Token,
		"identity_id": rt.IdentityID,
		"purpose":     rt.Purpose,
		"expires_at":  rt.ExpiresAt,
		"created_at":  rt.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert recovery token: %w", err)
	}
	return rt, nil
}

// GetValid returns nil for unknown, used or expired tokens.
func (s *RecoveryTokenStore) GetValid(ctx context.Context, token string) (*model.RecoveryToken, error) {
	row, err := backend.FindOne(ctx, s.s, recoveryTokensTable, backend.Filter{
		backend.Eq("token", token),
		backend.Eq("used_at", nil),
		backend.After("expires_at", time.Now().UTC()),
	})
	if err != nil {
		return nil, fmt.Errorf("get recovery token: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return &model.RecoveryToken{
		Token:      row.String("token"),
		IdentityID: row.String("identity_id"),
		Purpose:    row.String("purpose"),
		ExpiresAt:  row.Time("expires_at"),
		UsedAt:     row.TimePtr("used_at"),
		CreatedAt:  row.Time("created_at"),
	}, nil
}

// MarkUsed consumes the token. It reports false if another request already
// consumed it.
func (s *RecoveryTokenStore) MarkUsed(ctx context.Context, token string) (bool, error) {
	n, err := s.s.Update(ctx, recoveryTokensTable, backend.Filter{
		backend.Eq("token", token),
		backend.Eq("used_at", nil),
	}, backend.Row{"used_at": time.Now().UTC()})
	if err != nil {
		return false, fmt.Errorf("mark recovery token used: %w", err)
	}
	return n > 0, nil
}

// Release makes a consumed token usable again.
func (s *RecoveryTokenStore) Release(ctx context.Context, token string) error {
	if _, err := s.s.Update(ctx, recoveryTokensTable, backend.Filter{
		backend.Eq("token", token),
	}, backend.Row{"used_at": nil}); err != nil {
		return fmt.Errorf("release recovery token: %w", err)
	}
	return nil
}
