package identity

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/database"
	"github.com/dukerupert/mise/internal/logging"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

func setupAccess(t *testing.T, version int64) *backend.Access {
	t.Helper()
	db, err := database.OpenAt(":memory:", version)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	base := backend.NewSQLStore(db, backend.SQLite, 2*time.Second)
	return backend.NewAccess(base, store.Policies(), logging.Discard())
}

func TestLocalProviderCreateAndSignIn(t *testing.T) {
	access := setupAccess(t, database.Latest)
	p := NewLocalProvider(access.Privileged(), "https://mise.example", logging.Discard())
	ctx := context.Background()

	ident, err := p.CreateIdentity(ctx, "Sophie@X.ch", "correct horse", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ident.Email != "sophie@x.ch" {
		t.Errorf("email = %q, want %q", ident.Email, "sophie@x.ch")
	}

	if _, err := p.CreateIdentity(ctx, "sophie@x.ch", "another one", true); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrAlreadyExists", err)
	}

	if _, err := p.SignIn(ctx, "sophie@x.ch", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := p.SignIn(ctx, "nobody@x.ch", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}

	sess, err := p.SignIn(ctx, "sophie@x.ch", "correct horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	cur, err := p.CurrentUser(ctx, sess.Token)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if cur.ID != ident.ID {
		t.Errorf("current user = %q, want %q", cur.ID, ident.ID)
	}

	if err := p.SignOut(ctx, sess.Token); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := p.CurrentUser(ctx, sess.Token); !errors.Is(err, ErrNoSession) {
		t.Errorf("after sign out err = %v, want ErrNoSession", err)
	}
}

func TestLocalProviderUpdateCredential(t *testing.T) {
	access := setupAccess(t, database.Latest)
	p := NewLocalProvider(access.Privileged(), "", logging.Discard())
	ctx := context.Background()

	ident, _ := p.CreateIdentity(ctx, "marco@x.ch", "", true)
	if _, err := p.SignIn(ctx, "marco@x.ch", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("empty credential sign in err = %v, want ErrInvalidCredentials", err)
	}

	if err := p.UpdateCredential(ctx, ident.ID, "short"); !errors.Is(err, ErrWeakCredential) {
		t.Errorf("short credential err = %v, want ErrWeakCredential", err)
	}
	if err := p.UpdateCredential(ctx, "missing", "long enough"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
	if err := p.UpdateCredential(ctx, ident.ID, "long enough"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := p.SignIn(ctx, "marco@x.ch", "long enough"); err != nil {
		t.Errorf("sign in after update: %v", err)
	}
}

func TestLocalProviderRecovery(t *testing.T) {
	access := setupAccess(t, database.Latest)
	p := NewLocalProvider(access.Privileged(), "https://mise.example", logging.Discard())
	ctx := context.Background()

	if _, err := p.GenerateRecoveryLink(ctx, "ghost@x.ch", model.PurposeRecovery); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown email err = %v, want ErrNotFound", err)
	}

	p.CreateIdentity(ctx, "anna@x.ch", "", true)
	link, err := p.GenerateRecoveryLink(ctx, "anna@x.ch", model.PurposeInvite)
	if err != nil {
		t.Fatalf("generate link: %v", err)
	}
	if !strings.HasPrefix(link, "https://mise.example/password/setup?token=") {
		t.Errorf("link = %q", link)
	}
	u, _ := url.Parse(link)
	token := u.Query().Get("token")

	ident, err := p.CompleteRecovery(ctx, token, "brand new pass")
	if err != nil {
		t.Fatalf("complete recovery: %v", err)
	}
	if ident.Email != "anna@x.ch" {
		t.Errorf("email = %q, want anna@x.ch", ident.Email)
	}
	if _, err := p.CompleteRecovery(ctx, token, "again and again"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("reused token err = %v, want ErrInvalidToken", err)
	}
	if _, err := p.SignIn(ctx, "anna@x.ch", "brand new pass"); err != nil {
		t.Errorf("sign in with recovered credential: %v", err)
	}
}

// failingUpdates rejects updates to one collection as if the database
// had gone away.
type failingUpdates struct {
	backend.Store
	collection string
}

func (f failingUpdates) Update(ctx context.Context, collection string, filter backend.Filter, patch backend.Row) (int64, error) {
	if collection == f.collection {
		return 0, backend.ErrBackendUnavailable
	}
	return f.Store.Update(ctx, collection, filter, patch)
}

func TestCompleteRecoveryKeepsTokenWhenCredentialFails(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	base := backend.NewSQLStore(db, backend.SQLite, 2*time.Second)
	logger := logging.Discard()
	ctx := context.Background()

	healthy := NewLocalProvider(backend.NewPrivileged(base, logger), "https://mise.example", logger)
	if _, err := healthy.CreateIdentity(ctx, "lena@x.ch", "", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	link, err := healthy.GenerateRecoveryLink(ctx, "lena@x.ch", model.PurposeInvite)
	if err != nil {
		t.Fatalf("generate link: %v", err)
	}
	u, _ := url.Parse(link)
	token := u.Query().Get("token")

	broken := NewLocalProvider(backend.NewPrivileged(failingUpdates{Store: base, collection: "identities"}, logger), "https://mise.example", logger)
	if _, err := broken.CompleteRecovery(ctx, token, "brand new pass"); !errors.Is(err, backend.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}

	if _, err := healthy.CompleteRecovery(ctx, token, "brand new pass"); err != nil {
		t.Fatalf("retry with same link: %v", err)
	}
	if _, err := healthy.SignIn(ctx, "lena@x.ch", "brand new pass"); err != nil {
		t.Errorf("sign in after retry: %v", err)
	}
}

func seedMerchant(t *testing.T, s backend.Store, email string) *model.Merchant {
	t.Helper()
	m, err := store.NewMerchantStore(s).UpsertByEmail(context.Background(), store.MerchantUpsert{Email: email, Name: "Test"})
	if err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return m
}

func TestResolveMerchantDirectLink(t *testing.T) {
	access := setupAccess(t, database.Latest)
	priv := access.Privileged()
	p := NewLocalProvider(priv, "", logging.Discard())
	r := NewResolver(logging.Discard())
	ctx := context.Background()

	m := seedMerchant(t, priv.For("test"), "linked@x.ch")
	ident, _ := p.CreateIdentity(ctx, "other-login@x.ch", "password1", true)
	if err := ReconcileLink(ctx, priv, m, ident.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	got, err := r.ResolveMerchant(ctx, access.Restricted(ident.ID), priv, ident.ID, "other-login@x.ch")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.ID != m.ID {
		t.Errorf("resolved = %v, want %s", got, m.ID)
	}
}

func TestResolveMerchantEmailFallback(t *testing.T) {
	access := setupAccess(t, database.Latest)
	priv := access.Privileged()
	r := NewResolver(logging.Discard())
	ctx := context.Background()

	m := seedMerchant(t, priv.For("test"), "unlinked@x.ch")

	got, err := r.ResolveMerchant(ctx, access.Restricted("id-unlinked"), priv, "id-unlinked", "Unlinked@X.ch")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.ID != m.ID {
		t.Errorf("resolved = %v, want %s", got, m.ID)
	}

	after, _ := store.NewMerchantStore(priv.For("test")).GetByID(ctx, m.ID)
	if after.IdentityID != nil {
		t.Error("resolve wrote a link; reads must not mutate")
	}

	none, err := r.ResolveMerchant(ctx, access.Restricted("id-x"), priv, "id-x", "stranger@x.ch")
	if err != nil || none != nil {
		t.Errorf("stranger resolved = %v, %v; want nil, nil", none, err)
	}
}

func TestResolveMerchantMissingLinkColumn(t *testing.T) {
	access := setupAccess(t, 3)
	priv := access.Privileged()
	r := NewResolver(logging.Discard())
	ctx := context.Background()

	m := seedMerchant(t, priv.For("test"), "legacy@x.ch")

	got, err := r.ResolveMerchant(ctx, access.Restricted("id-legacy"), priv, "id-legacy", "legacy@x.ch")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.ID != m.ID {
		t.Errorf("resolved = %v, want %s", got, m.ID)
	}

	if err := ReconcileLink(ctx, priv, got, "id-legacy"); !errors.Is(err, backend.ErrColumnNotFound) {
		t.Errorf("reconcile err = %v, want ErrColumnNotFound", err)
	}
}

func TestResolveMerchantBackendDown(t *testing.T) {
	access := backend.NewAccess(backend.Offline{}, store.Policies(), logging.Discard())
	r := NewResolver(logging.Discard())

	got, err := r.ResolveMerchant(context.Background(), access.Restricted("id-1"), access.Privileged(), "id-1", "a@x.ch")
	if got != nil {
		t.Errorf("resolved = %v, want nil", got)
	}
	if !errors.Is(err, backend.ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestReconcileLinkNoop(t *testing.T) {
	id := "id-same"
	m := &model.Merchant{ID: "m-1", IdentityID: &id}
	// A zero capability would panic if the store were touched.
	if err := ReconcileLink(context.Background(), backend.Privileged{}, m, id); err != nil {
		t.Errorf("reconcile already-linked: %v", err)
	}
}
