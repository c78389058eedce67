package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
)

const merchantsTable = "merchants"

type MerchantStore struct {
	s backend.Store
}

func NewMerchantStore(s backend.Store) *MerchantStore {
	return &MerchantStore{s: s}
}

// MerchantFromRow tolerates a schema without the identity_id column.
func MerchantFromRow(r backend.Row) *model.Merchant {
	return &model.Merchant{
		ID:               r.String("id"),
		Email:            r.String("email"),
		Name:             r.String("name"),
		Phone:            r.String("phone"),
		StripeCustomerID: r.StringPtr("stripe_customer_id"),
		IdentityID:       r.StringPtr("identity_id"),
		CredentialHash:   r.String("credential_hash"),
		Locale:           r.String("locale"),
		CreatedAt:        r.Time("created_at"),
		UpdatedAt:        r.Time("updated_at"),
	}
}

func (s *MerchantStore) getBy(ctx context.Context, column string, v any) (*model.Merchant, error) {
	row, err := backend.FindOne(ctx, s.s, merchantsTable, backend.Filter{backend.Eq(column, v)})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return MerchantFromRow(row), nil
}

func (s *MerchantStore) GetByID(ctx context.Context, id string) (*model.Merchant, error) {
	m, err := s.getBy(ctx, "id", id)
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return m, nil
}

func (s *MerchantStore) GetByEmail(ctx context.Context, email string) (*model.Merchant, error) {
	m, err := s.getBy(ctx, "email", NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("get merchant by email: %w", err)
	}
	return m, nil
}

// GetByIdentityID fails with backend.ErrColumnNotFound when the link column
// has not been migrated yet.
func (s *MerchantStore) GetByIdentityID(ctx context.Context, identityID string) (*model.Merchant, error) {
	m, err := s.getBy(ctx, "identity_id", identityID)
	if err != nil {
		return nil, fmt.Errorf("get merchant by identity: %w", err)
	}
	return m, nil
}

// MerchantUpsert carries the fields a checkout or admin provisioning knows.
// Empty fields leave the stored value alone.
type MerchantUpsert struct {
	Email            string
	Name             string
	Phone            string
	StripeCustomerID string
	Locale           string
}

// UpsertByEmail creates the merchant or updates the existing one for the
// email. Concurrent writers race last-writer-wins on the provided fields.
func (s *MerchantStore) UpsertByEmail(ctx context.Context, in MerchantUpsert) (*model.Merchant, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("upsert merchant: %w: email required", backend.ErrInvalidInput)
	}
	now := time.Now().UTC()
	row := backend.Row{
		"id":         uuid.NewString(),
		"email":      email,
		"created_at": now,
		"updated_at": now,
	}
	if in.Name != "" {
		row["name"] = in.Name
	}
	if in.Phone != "" {
		row["phone"] = in.Phone
	}
	if in.StripeCustomerID != "" {
		row["stripe_customer_id"] = in.StripeCustomerID
	}
	if in.Locale != "" {
		row["locale"] = in.Locale
	}

	if err := s.s.Upsert(ctx, merchantsTable, row, "email"); err != nil {
		return nil, fmt.Errorf("upsert merchant: %w", err)
	}
	m, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("upsert merchant: %w: row missing after write", backend.ErrNotFound)
	}
	return m, nil
}

func (s *MerchantStore) update(ctx context.Context, id string, patch backend.Row) error {
	patch["updated_at"] = time.Now().UTC()
	n, err := s.s.Update(ctx, merchantsTable, backend.Filter{backend.Eq("id", id)}, patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (s *MerchantStore) LinkIdentity(ctx context.Context, id, identityID string) error {
	if err := s.update(ctx, id, backend.Row{"identity_id": identityID}); err != nil {
		return fmt.Errorf("link merchant identity: %w", err)
	}
	return nil
}

func (s *MerchantStore) SetCredentialHash(ctx context.Context, id, hash string) error {
	if err := s.update(ctx, id, backend.Row{"credential_hash": hash}); err != nil {
		return fmt.Errorf("set merchant credential: %w", err)
	}
	return nil
}

func (s *MerchantStore) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	if err := s.update(ctx, id, backend.Row{"stripe_customer_id": customerID}); err != nil {
		return fmt.Errorf("set stripe customer id: %w", err)
	}
	return nil
}

// List returns one page of merchants, newest first, with the total count.
// search matches email or name.
func (s *MerchantStore) List(ctx context.Context, search string, limit, offset int) ([]model.Merchant, int, error) {
	q := backend.Query{
		Order:  []backend.Order{{Column: "created_at", Desc: true}, {Column: "id"}},
		Limit:  limit,
		Offset: offset,
		Count:  true,
	}
	if search != "" {
		q.Filter = backend.Filter{backend.Or(
			backend.Contains("email", search),
			backend.Contains("name", search),
		)}
	}
	page, err := s.s.Find(ctx, merchantsTable, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list merchants: %w", err)
	}
	out := make([]model.Merchant, 0, len(page.Rows))
	for _, r := range page.Rows {
		out = append(out, *MerchantFromRow(r))
	}
	return out, page.Total, nil
}

func (s *MerchantStore) Count(ctx context.Context) (int, error) {
	n, err := s.s.Count(ctx, merchantsTable, nil)
	if err != nil {
		return 0, fmt.Errorf("count merchants: %w", err)
	}
	return n, nil
}
