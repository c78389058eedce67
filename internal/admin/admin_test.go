package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/database"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/logging"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/resilient"
	"github.com/dukerupert/mise/internal/store"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
}

func (f *fakeMailer) Send(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	svc    *Service
	priv   backend.Privileged
	idp    *identity.LocalProvider
	mailer *fakeMailer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.Discard()
	priv := backend.NewPrivileged(backend.NewSQLStore(db, backend.SQLite, 2*time.Second), logger)
	idp := identity.NewLocalProvider(priv, "https://mise.test", logger)
	mailer := &fakeMailer{}
	return &fixture{
		svc:    NewService(priv, idp, mailer, nil, logger),
		priv:   priv,
		idp:    idp,
		mailer: mailer,
	}
}

func TestProvisionMerchant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.svc.ProvisionMerchant(ctx, ProvisionInput{Email: "Owner@Bistro.ch", Name: "Bistro", Locale: "fr", Password: "initial-pass"})
	if !r.Success {
		t.Fatalf("provision: %q", r.Error)
	}
	m := r.Data
	if m.Email != "owner@bistro.ch" {
		t.Errorf("email = %q, want owner@bistro.ch", m.Email)
	}
	if m.IdentityID == nil {
		t.Fatal("merchant not linked")
	}

	if _, err := f.idp.SignIn(ctx, "owner@bistro.ch", "initial-pass"); err != nil {
		t.Errorf("sign in with initial password: %v", err)
	}

	stored, _ := store.NewMerchantStore(f.priv.For("test")).GetByID(ctx, m.ID)
	if !identity.VerifyCredential(stored.CredentialHash, "initial-pass") {
		t.Error("merchant credential hash does not verify")
	}
	if len(f.mailer.sent) != 1 {
		t.Errorf("emails = %d, want 1 invitation", len(f.mailer.sent))
	}
}

func TestProvisionMerchantValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if r := f.svc.ProvisionMerchant(ctx, ProvisionInput{Email: "nope", Password: "long-enough"}); r.Success {
		t.Error("invalid email accepted")
	}
	r := f.svc.ProvisionMerchant(ctx, ProvisionInput{Email: "a@b.ch", Password: "short"})
	if r.Success {
		t.Fatal("short password accepted")
	}
	if r.Error != "password must be at least 8 characters." {
		t.Errorf("error = %q", r.Error)
	}
}

func TestProvisionMerchantDegraded(t *testing.T) {
	logger := logging.Discard()
	priv := backend.NewPrivileged(backend.Offline{}, logger)
	svc := NewService(priv, identity.NewLocalProvider(priv, "https://mise.test", logger), &fakeMailer{}, nil, logger)

	r := svc.ProvisionMerchant(context.Background(), ProvisionInput{Email: "a@b.ch", Password: "long-enough"})
	if r.Success {
		t.Fatal("provisioning succeeded without a backend")
	}
	if !r.Degraded || r.Error != resilient.ErrMsgUnavailable {
		t.Errorf("result = %+v, want degraded generic failure", r)
	}

	d := svc.Dashboard(context.Background())
	if d.Success || !d.Degraded {
		t.Errorf("dashboard = %+v, want degraded failure", d)
	}
}

func TestResetMerchantPassword(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Unlinked merchant with no identity yet.
	m, err := store.NewMerchantStore(f.priv.For("test")).UpsertByEmail(ctx, store.MerchantUpsert{Email: "late@x.ch"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := f.svc.ResetMerchantPassword(ctx, m.ID, "brand-new-pass")
	if !r.Success {
		t.Fatalf("reset: %q", r.Error)
	}
	if _, err := f.idp.SignIn(ctx, "late@x.ch", "brand-new-pass"); err != nil {
		t.Errorf("sign in after reset: %v", err)
	}
	got, _ := store.NewMerchantStore(f.priv.For("test")).GetByID(ctx, m.ID)
	if got.IdentityID == nil {
		t.Error("merchant not linked after reset")
	}

	if r := f.svc.ResetMerchantPassword(ctx, "missing", "brand-new-pass"); r.Success || r.Error != resilient.ErrMsgNotFound {
		t.Errorf("missing merchant = %+v", r)
	}
}

func TestDashboardAndList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	db := f.priv.For("test")

	merchants := store.NewMerchantStore(db)
	subs := store.NewSubscriptionStore(db)
	for i, addr := range []string{"a@x.ch", "b@x.ch", "c@y.ch"} {
		m, err := merchants.UpsertByEmail(ctx, store.MerchantUpsert{Email: addr, Name: "M" + addr})
		if err != nil {
			t.Fatalf("seed merchant: %v", err)
		}
		status := model.StatusActive
		if i == 2 {
			status = model.StatusPastDue
		}
		if _, err := subs.Create(ctx, store.NewSubscription{MerchantID: m.ID, Plan: model.PlanMonthly, Status: status, ProcessorRef: "sub_" + addr}); err != nil {
			t.Fatalf("seed subscription: %v", err)
		}
	}

	d := f.svc.Dashboard(ctx)
	if !d.Success {
		t.Fatalf("dashboard: %q", d.Error)
	}
	if d.Data.Merchants != 3 || d.Data.ActiveSubscriptions != 2 || d.Data.PastDue != 1 {
		t.Errorf("dashboard = %+v", d.Data)
	}

	l := f.svc.ListMerchants(ctx, "x.ch", 1, 10)
	if !l.Success {
		t.Fatalf("list: %q", l.Error)
	}
	if l.Total != 2 || len(l.Data) != 2 {
		t.Errorf("list = %d rows of %d, want 2 of 2", len(l.Data), l.Total)
	}
	for _, row := range l.Data {
		if row.Subscription == nil {
			t.Errorf("merchant %s has no subscription", row.Email)
		}
	}
}

func TestBootstrapAdmins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if _, err := f.idp.CreateIdentity(ctx, "existing@mise.test", "kept-pass-1", true); err != nil {
		t.Fatalf("create identity: %v", err)
	}

	emails := []string{"Ops@Mise.test", " ", "existing@mise.test"}
	n, err := f.svc.BootstrapAdmins(ctx, emails)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if n != 1 {
		t.Errorf("created = %d, want 1", n)
	}
	if ident, _ := f.idp.FindByEmail(ctx, "ops@mise.test"); ident == nil {
		t.Error("admin identity not created")
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].To != "ops@mise.test" {
		t.Fatalf("sent = %+v, want one setup link to ops@mise.test", f.mailer.sent)
	}
	if _, err := f.idp.SignIn(ctx, "existing@mise.test", "kept-pass-1"); err != nil {
		t.Errorf("existing identity changed: %v", err)
	}

	if n, err := f.svc.BootstrapAdmins(ctx, emails); err != nil || n != 0 {
		t.Errorf("second run = %d, %v; want 0", n, err)
	}
	if len(f.mailer.sent) != 1 {
		t.Errorf("sent = %d after second run, want 1", len(f.mailer.sent))
	}
}

func TestBootstrapAdminsBackendDown(t *testing.T) {
	logger := logging.Discard()
	priv := backend.NewPrivileged(backend.Offline{}, logger)
	svc := NewService(priv, identity.NewLocalProvider(priv, "https://mise.test", logger), &fakeMailer{}, nil, logger)

	if _, err := svc.BootstrapAdmins(context.Background(), []string{"ops@mise.test"}); err == nil {
		t.Error("expected error with the backend down")
	}
}
