package store

import "github.com/dukerupert/mise/internal/backend"

// Policies are the row-ownership rules for the restricted tier. Identity,
// session, token and webhook tables are privileged-only.
func Policies() backend.Policies {
	return backend.Policies{
		merchantsTable:     {Owner: backend.ColumnOwner("identity_id")},
		subscriptionsTable: {Owner: backend.ParentOwner("merchant_id", merchantsTable, "identity_id")},
		RestaurantsTable:   {PublicRead: true},
		ReviewsTable:       {PublicRead: true, PublicInsert: true},
		NewsletterTable:    {PublicInsert: true},
	}
}
