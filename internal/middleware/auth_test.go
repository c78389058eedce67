package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/mise/internal/auth"
	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/database"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/logging"
	"github.com/dukerupert/mise/internal/store"
)

// flakyStore fails reads of one collection as if the backend were down.
type flakyStore struct {
	backend.Store
	down string
}

func (s *flakyStore) Find(ctx context.Context, collection string, q backend.Query) (backend.Page, error) {
	if collection == s.down {
		return backend.Page{}, fmt.Errorf("find %s: %w", collection, backend.ErrBackendUnavailable)
	}
	return s.Store.Find(ctx, collection, q)
}

type authFixture struct {
	base   *flakyStore
	access *backend.Access
	idp    *identity.LocalProvider
}

func setupAuth(t *testing.T) *authFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.Discard()
	base := &flakyStore{Store: backend.NewSQLStore(db, backend.SQLite, 2*time.Second)}
	access := backend.NewAccess(base, store.Policies(), logger)
	return &authFixture{
		base:   base,
		access: access,
		idp:    identity.NewLocalProvider(access.Privileged(), "https://mise.test", logger),
	}
}

// session creates an identity and signs it in.
func (f *authFixture) session(t *testing.T, addr string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := f.idp.CreateIdentity(ctx, addr, "correct-horse", true); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	sess, err := f.idp.SignIn(ctx, addr, "correct-horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return sess.Token
}

func (f *authFixture) requireMerchant(t *testing.T, next http.HandlerFunc) http.Handler {
	logger := logging.Discard()
	return RequireMerchant(f.idp, f.access, identity.NewResolver(logger), logger)(next)
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireMerchantNoCookie(t *testing.T) {
	f := setupAuth(t)
	h := f.requireMerchant(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})

	if rec := serve(h, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireMerchantInvalidToken(t *testing.T) {
	f := setupAuth(t)
	h := f.requireMerchant(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})

	rec := serve(h, "invalid-token")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if c := rec.Result().Cookies(); len(c) == 0 || c[0].MaxAge >= 0 {
		t.Error("expected session cookie to be cleared")
	}
}

func TestRequireMerchantUnlinkedMerchant(t *testing.T) {
	f := setupAuth(t)
	token := f.session(t, "sophie@x.ch")
	m, err := store.NewMerchantStore(f.access.Privileged().For("test")).UpsertByEmail(context.Background(), store.MerchantUpsert{Email: "sophie@x.ch"})
	if err != nil {
		t.Fatalf("seed merchant: %v", err)
	}

	var got auth.Principal
	h := f.requireMerchant(t, func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
	})

	if rec := serve(h, token); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.Merchant == nil || got.Merchant.ID != m.ID {
		t.Errorf("merchant = %+v, want %s", got.Merchant, m.ID)
	}
	if got.Email != "sophie@x.ch" {
		t.Errorf("email = %q, want sophie@x.ch", got.Email)
	}
}

func TestRequireMerchantSignsOutStrangers(t *testing.T) {
	f := setupAuth(t)
	token := f.session(t, "stranger@x.ch")

	h := f.requireMerchant(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})
	if rec := serve(h, token); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if _, err := f.idp.CurrentUser(context.Background(), token); err != identity.ErrNoSession {
		t.Errorf("session after rejection: err = %v, want ErrNoSession", err)
	}
}

func TestRequireMerchantBackendDown(t *testing.T) {
	f := setupAuth(t)
	token := f.session(t, "sophie@x.ch")
	f.base.down = "merchants"

	h := f.requireMerchant(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	})
	if rec := serve(h, token); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	// The session survives the outage.
	if _, err := f.idp.CurrentUser(context.Background(), token); err != nil {
		t.Errorf("session after outage: %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	f := setupAuth(t)
	adminToken := f.session(t, "ops@mise.test")
	otherToken := f.session(t, "someone@x.ch")

	h := RequireAdmin(f.idp, []string{"Ops@Mise.test"}, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			t.Error("admin principal missing")
		}
	}))

	if rec := serve(h, adminToken); rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := serve(h, otherToken); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
