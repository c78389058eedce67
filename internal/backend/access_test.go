package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/mise/internal/database"
)

var testPolicies = Policies{
	"merchants":     {Owner: ColumnOwner("identity_id")},
	"subscriptions": {Owner: ParentOwner("merchant_id", "merchants", "identity_id")},
	"restaurants":   {PublicRead: true},
	"reviews":       {PublicRead: true, PublicInsert: true},
}

func seedOwnership(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"id-a", "id-b"} {
		if err := s.Insert(ctx, "identities", Row{"id": id, "email": id + "@x.ch"}); err != nil {
			t.Fatalf("insert identity: %v", err)
		}
	}
	merchants := []Row{
		{"id": "m-a", "email": "a@x.ch", "identity_id": "id-a"},
		{"id": "m-b", "email": "b@x.ch", "identity_id": "id-b"},
	}
	for _, m := range merchants {
		if err := s.Insert(ctx, "merchants", m); err != nil {
			t.Fatalf("insert merchant: %v", err)
		}
	}
	subs := []Row{
		{"id": "s-a", "merchant_id": "m-a", "plan": "monthly", "status": "active"},
		{"id": "s-b", "merchant_id": "m-b", "plan": "annual", "status": "active"},
	}
	for _, sub := range subs {
		if err := s.Insert(ctx, "subscriptions", sub); err != nil {
			t.Fatalf("insert subscription: %v", err)
		}
	}
}

func TestRestrictedOwnership(t *testing.T) {
	base := openSQLite(t, database.Latest)
	seedOwnership(t, base)
	access := NewAccess(base, testPolicies, nil)
	ctx := context.Background()

	a := access.Restricted("id-a")

	page, err := a.Find(ctx, "merchants", Query{})
	if err != nil {
		t.Fatalf("find merchants: %v", err)
	}
	if got := ids(page.Rows); !equalIDs(got, []string{"m-a"}) {
		t.Errorf("merchants visible to a = %v, want [m-a]", got)
	}

	page, err = a.Find(ctx, "subscriptions", Query{})
	if err != nil {
		t.Fatalf("find subscriptions: %v", err)
	}
	if got := ids(page.Rows); !equalIDs(got, []string{"s-a"}) {
		t.Errorf("subscriptions visible to a = %v, want [s-a]", got)
	}

	n, err := a.Update(ctx, "merchants", Filter{Eq("id", "m-b")}, Row{"name": "hijacked"})
	if err != nil {
		t.Fatalf("update foreign merchant: %v", err)
	}
	if n != 0 {
		t.Errorf("updated foreign rows = %d, want 0", n)
	}

	if _, err := a.Update(ctx, "merchants", Filter{Eq("id", "m-a")}, Row{"identity_id": "id-b"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("ownership transfer err = %v, want ErrForbidden", err)
	}

	err = a.Insert(ctx, "merchants", Row{"id": "m-x", "email": "x@x.ch", "identity_id": "id-b"})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("insert for other identity err = %v, want ErrForbidden", err)
	}

	if _, err := a.Find(ctx, "identities", Query{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("find identities err = %v, want ErrForbidden", err)
	}
}

func TestRestrictedAnonymous(t *testing.T) {
	base := openSQLite(t, database.Latest)
	seedOwnership(t, base)
	access := NewAccess(base, testPolicies, nil)
	ctx := context.Background()

	anon := access.Restricted("")

	if _, err := anon.Find(ctx, "merchants", Query{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("anonymous merchants err = %v, want ErrForbidden", err)
	}
	if _, err := anon.Find(ctx, "restaurants", Query{}); err != nil {
		t.Errorf("anonymous restaurants: %v", err)
	}
	if err := anon.Insert(ctx, "restaurants", Row{"id": "r-1", "slug": "r-1", "name": "R"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("anonymous restaurant insert err = %v, want ErrForbidden", err)
	}
}

func TestPrivilegedBypassesPolicy(t *testing.T) {
	base := openSQLite(t, database.Latest)
	seedOwnership(t, base)
	priv := NewAccess(base, testPolicies, nil).Privileged()

	n, err := priv.For("test: count merchants").Count(context.Background(), "merchants", nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if (Privileged{}).Valid() {
		t.Error("zero Privileged reported valid")
	}
}
