package auth

import (
	"context"
	"testing"

	"github.com/dukerupert/mise/internal/model"
)

func TestWithPrincipalAndFromContext(t *testing.T) {
	p := Principal{
		IdentityID:   "id-1",
		Email:        "owner@x.ch",
		SessionToken: "tok",
		Merchant:     &model.Merchant{ID: "m-1"},
	}

	ctx := WithPrincipal(context.Background(), p)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected Principal in context")
	}
	if got.IdentityID != "id-1" {
		t.Errorf("IdentityID = %q, want %q", got.IdentityID, "id-1")
	}
	if got.Email != "owner@x.ch" {
		t.Errorf("Email = %q, want %q", got.Email, "owner@x.ch")
	}
	if m := Merchant(ctx); m == nil || m.ID != "m-1" {
		t.Errorf("Merchant = %+v, want m-1", m)
	}
	if IsAdmin(ctx) {
		t.Error("IsAdmin = true, want false")
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Error("expected no Principal in empty context")
	}
	if Merchant(ctx) != nil {
		t.Error("Merchant should be nil for empty context")
	}
	if IdentityID(ctx) != "" {
		t.Error("IdentityID should be empty for empty context")
	}
	if IsAdmin(ctx) {
		t.Error("IsAdmin should be false for empty context")
	}
}

func TestIsAdmin(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{IdentityID: "id-2", Admin: true})
	if !IsAdmin(ctx) {
		t.Error("IsAdmin = false, want true")
	}
}
