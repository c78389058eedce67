package model

import "time"

// Merchant is the business record, unique by email. IdentityID is the
// optional link to the Identity that signs in for it.
type Merchant struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone"`
	StripeCustomerID *string   `json:"stripe_customer_id"`
	IdentityID       *string   `json:"identity_id"`
	CredentialHash   string    `json:"-"`
	Locale           string    `json:"locale"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Linked reports whether the merchant points at identityID.
func (m *Merchant) Linked(identityID string) bool {
	return m.IdentityID != nil && *m.IdentityID == identityID
}
