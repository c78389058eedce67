// Package admin implements the internal console: dashboard counts, merchant
// search, provisioning and password resets. It runs with privileged access.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/lifecycle"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/resilient"
	"github.com/dukerupert/mise/internal/store"
	"github.com/dukerupert/mise/internal/websocket"
)

type Dashboard struct {
	Merchants           int `json:"merchants"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	Trialing            int `json:"trialing"`
	PastDue             int `json:"past_due"`
	Canceled            int `json:"canceled"`
	Restaurants         int `json:"restaurants"`
	PendingReviews      int `json:"pending_reviews"`
	NewsletterSignups   int `json:"newsletter_signups"`
}

// MerchantSummary is one row of the merchant list.
type MerchantSummary struct {
	model.Merchant
	Subscription *model.Subscription `json:"subscription"`
}

type Service struct {
	priv   backend.Privileged
	idp    identity.Provider
	mailer email.Sender
	notify lifecycle.Notifier
	logger *slog.Logger
}

// NewService returns the admin service. notify may be nil.
func NewService(priv backend.Privileged, idp identity.Provider, mailer email.Sender, notify lifecycle.Notifier, logger *slog.Logger) *Service {
	return &Service{
		priv:   priv,
		idp:    idp,
		mailer: mailer,
		notify: notify,
		logger: logger.With("component", "admin"),
	}
}

// Dashboard runs the counts concurrently. Any failure fails the whole
// dashboard; sample data is never counted.
func (s *Service) Dashboard(ctx context.Context) resilient.Result[Dashboard] {
	db := s.priv.For("admin: dashboard")
	subs := store.NewSubscriptionStore(db)

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int, fn func(context.Context) (int, error)) {
		g.Go(func() error {
			n, err := fn(gctx)
			*dst = n
			return err
		})
	}
	countRows := func(collection string, filter backend.Filter) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) {
			n, err := db.Count(ctx, collection, filter)
			if err != nil {
				return 0, fmt.Errorf("count %s: %w", collection, err)
			}
			return n, nil
		}
	}
	byStatus := func(status model.Status) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) { return subs.CountByStatus(ctx, status) }
	}

	count(&d.Merchants, store.NewMerchantStore(db).Count)
	count(&d.ActiveSubscriptions, byStatus(model.StatusActive))
	count(&d.Trialing, byStatus(model.StatusTrialing))
	count(&d.PastDue, byStatus(model.StatusPastDue))
	count(&d.Canceled, byStatus(model.StatusCanceled))
	count(&d.Restaurants, countRows(store.RestaurantsTable, nil))
	count(&d.PendingReviews, countRows(store.ReviewsTable, backend.Filter{backend.Eq("status", model.ReviewPending)}))
	count(&d.NewsletterSignups, countRows(store.NewsletterTable, nil))

	if err := g.Wait(); err != nil {
		s.logger.Error("dashboard counts", "error", err)
		return resilient.Fail[Dashboard](err)
	}
	return resilient.Ok(d)
}

// ListMerchants pages through merchants, newest first, with each one's
// current subscription.
func (s *Service) ListMerchants(ctx context.Context, search string, page, perPage int) resilient.Result[[]MerchantSummary] {
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}
	if page < 1 {
		page = 1
	}
	db := s.priv.For("admin: list merchants")

	merchants, total, err := store.NewMerchantStore(db).List(ctx, search, perPage, (page-1)*perPage)
	if err != nil {
		s.logger.Error("list merchants", "error", err)
		return resilient.Fail[[]MerchantSummary](err)
	}

	subs := store.NewSubscriptionStore(db)
	out := make([]MerchantSummary, 0, len(merchants))
	for _, m := range merchants {
		sub, err := subs.Current(ctx, m.ID)
		if err != nil {
			s.logger.Error("current subscription", "merchant_id", m.ID, "error", err)
			return resilient.Fail[[]MerchantSummary](err)
		}
		out = append(out, MerchantSummary{Merchant: m, Subscription: sub})
	}
	r := resilient.Ok(out)
	r.Total = total
	return r
}

type ProvisionInput struct {
	Email    string
	Name     string
	Phone    string
	Locale   string
	Password string
}

// ProvisionMerchant creates or updates the merchant for an email, gives it
// an identity with the initial password, links the two and emails an
// invitation. The merchant write is the only step that fails the call.
func (s *Service) ProvisionMerchant(ctx context.Context, in ProvisionInput) resilient.Result[*model.Merchant] {
	addr := store.NormalizeEmail(in.Email)
	if _, err := mail.ParseAddress(addr); err != nil {
		return resilient.Fail[*model.Merchant](resilient.Invalid("Enter a valid email address."))
	}
	if len(in.Password) < identity.MinCredentialLength {
		return resilient.Fail[*model.Merchant](resilient.Invalid(identity.ErrWeakCredential.Error() + "."))
	}

	hash, err := identity.HashCredential(in.Password)
	if err != nil {
		return resilient.Fail[*model.Merchant](err)
	}

	merchants := store.NewMerchantStore(s.priv.For("admin: provision merchant"))
	m, err := merchants.UpsertByEmail(ctx, store.MerchantUpsert{
		Email:  addr,
		Name:   in.Name,
		Phone:  in.Phone,
		Locale: email.NormalizeLocale(in.Locale),
	})
	if err != nil {
		s.logger.Error("provision merchant", "email", addr, "error", err)
		return resilient.Fail[*model.Merchant](err)
	}
	if err := merchants.SetCredentialHash(ctx, m.ID, hash); err != nil {
		s.logger.Error("store merchant credential", "merchant_id", m.ID, "error", err)
		return resilient.Fail[*model.Merchant](err)
	}

	s.ensureIdentity(ctx, m, in.Password)

	link, err := s.idp.GenerateRecoveryLink(ctx, m.Email, model.PurposeInvite)
	if err != nil {
		s.logger.Error("generate invitation link", "merchant_id", m.ID, "error", err)
	} else if err := s.mailer.Send(ctx, email.Invitation(m.Email, m.Name, link, m.Locale)); err != nil {
		s.logger.Error("send invitation", "merchant_id", m.ID, "error", err)
	}

	s.broadcast("merchant", "provisioned", m.ID, map[string]any{"email": m.Email})
	s.logger.Info("merchant provisioned", "merchant_id", m.ID, "email", m.Email)
	return resilient.Ok(m)
}

// ResetMerchantPassword sets a new password on both the merchant record and
// its identity, creating and linking the identity when it is missing.
func (s *Service) ResetMerchantPassword(ctx context.Context, merchantID, password string) resilient.Result[struct{}] {
	if len(password) < identity.MinCredentialLength {
		return resilient.Fail[struct{}](resilient.Invalid(identity.ErrWeakCredential.Error() + "."))
	}
	hash, err := identity.HashCredential(password)
	if err != nil {
		return resilient.Fail[struct{}](err)
	}

	merchants := store.NewMerchantStore(s.priv.For("admin: reset password"))
	m, err := merchants.GetByID(ctx, merchantID)
	if err != nil {
		return resilient.Fail[struct{}](err)
	}
	if m == nil {
		return resilient.Fail[struct{}](backend.ErrNotFound)
	}
	if err := merchants.SetCredentialHash(ctx, m.ID, hash); err != nil {
		s.logger.Error("store merchant credential", "merchant_id", m.ID, "error", err)
		return resilient.Fail[struct{}](err)
	}

	s.ensureIdentity(ctx, m, password)
	s.broadcast("merchant", "password_reset", m.ID, nil)
	s.logger.Info("merchant password reset", "merchant_id", m.ID)
	return resilient.Ok(struct{}{})
}

// ensureIdentity makes the merchant's identity accept password. Failures
// are logged; the login repair flow heals the rest from the stored hash.
func (s *Service) ensureIdentity(ctx context.Context, m *model.Merchant, password string) {
	log := s.logger.With("merchant_id", m.ID, "email", m.Email)

	if m.IdentityID != nil {
		err := s.idp.UpdateCredential(ctx, *m.IdentityID, password)
		if err == nil {
			return
		}
		if !errors.Is(err, identity.ErrNotFound) {
			log.Error("update identity credential", "error", err)
			return
		}
	}

	ident, err := s.idp.CreateIdentity(ctx, m.Email, password, true)
	if errors.Is(err, identity.ErrAlreadyExists) {
		ident, err = s.idp.FindByEmail(ctx, m.Email)
		if err == nil && ident != nil {
			err = s.idp.UpdateCredential(ctx, ident.ID, password)
		}
	}
	if err != nil || ident == nil {
		log.Error("provision identity", "error", err)
		return
	}
	if err := identity.ReconcileLink(ctx, s.priv, m, ident.ID); err != nil {
		log.Error("link identity", "identity_id", ident.ID, "error", err)
	}
}

func (s *Service) broadcast(entity, action, id string, fields map[string]any) {
	if s.notify == nil {
		return
	}
	s.notify.Broadcast(websocket.NewEvent(entity, action, id, fields))
}
