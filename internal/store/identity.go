package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
)

const identitiesTable = "identities"

type IdentityStore struct {
	s backend.Store
}

func NewIdentityStore(s backend.Store) *IdentityStore {
	return &IdentityStore{s: s}
}

func identityFromRow(r backend.Row) *model.Identity {
	return &model.Identity{
		ID:             r.String("id"),
		Email:          r.String("email"),
		PasswordHash:   r.String("password_hash"),
		EmailConfirmed: r.Bool("email_confirmed"),
		CreatedAt:      r.Time("created_at"),
		UpdatedAt:      r.Time("updated_at"),
	}
}

// Create fails with backend.ErrConstraintViolation if the email is taken.
func (s *IdentityStore) Create(ctx context.Context, email, passwordHash string, confirmed bool) (*model.Identity, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	err := s.s.Insert(ctx, identitiesTable, backend.Row{
		"id":              id,
		"email":           NormalizeEmail(email),
		"password_hash":   passwordHash,
		"email_confirmed": confirmed,
		"created_at":      now,
		"updated_at":      now,
	})
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *IdentityStore) get(ctx context.Context, column, v string) (*model.Identity, error) {
	row, err := backend.FindOne(ctx, s.s, identitiesTable, backend.Filter{backend.Eq(column, v)})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return identityFromRow(row), nil
}

func (s *IdentityStore) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	ident, err := s.get(ctx, "id", id)
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	ident, err := s.get(ctx, "email", NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("get identity by email: %w", err)
	}
	return ident, nil
}

// UpdatePasswordHash fails with backend.ErrNotFound for an unknown id.
func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	n, err := s.s.Update(ctx, identitiesTable, backend.Filter{backend.Eq("id", id)}, backend.Row{
		"password_hash": hash,
		"updated_at":    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("update identity credential: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update identity credential: %w", backend.ErrNotFound)
	}
	return nil
}

func (s *IdentityStore) Count(ctx context.Context) (int, error) {
	n, err := s.s.Count(ctx, identitiesTable, nil)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}
