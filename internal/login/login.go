// Package login signs merchants in, healing a broken identity link once
// when the merchant record proves the credential.
package login

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotMerchant        = errors.New("not a merchant account")
	ErrUnavailable        = errors.New("sign-in temporarily unavailable")
)

// Result is a successful sign-in.
type Result struct {
	Session  *model.Session
	Merchant *model.Merchant
	// Repaired is for logging only; it never reaches the caller's response.
	Repaired bool
	// Admin is set when an admin without a merchant record finished
	// password setup.
	Admin bool
}

type Service struct {
	idp      identity.Provider
	access   *backend.Access
	resolver *identity.Resolver
	mailer   email.Sender
	admins   map[string]bool
	logger   *slog.Logger
}

func NewService(idp identity.Provider, access *backend.Access, resolver *identity.Resolver, mailer email.Sender, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		idp:      idp,
		access:   access,
		resolver: resolver,
		mailer:   mailer,
		admins:   make(map[string]bool),
		logger:   logger.With("component", "login"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignIn authenticates email and password against the identity provider.
// On failure it checks for a merchant whose stored credential matches; only
// then is the identity repaired (credential updated or identity created and
// linked) and sign-in retried exactly once. Any failure after that is
// reported as ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email = store.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || strings.TrimSpace(password) == "" {
		return nil, ErrInvalidInput
	}

	sess, err := s.idp.SignIn(ctx, email, password)
	switch {
	case err == nil:
		return s.authenticated(ctx, sess, email, false)
	case !errors.Is(err, identity.ErrInvalidCredentials):
		s.logger.Error("direct sign in failed", "email", email, "error", err)
		return nil, ErrUnavailable
	}

	merchants := store.NewMerchantStore(s.access.Privileged().For("login repair: find merchant"))
	m, err := merchants.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Error("merchant lookup during repair", "email", email, "error", err)
		return nil, ErrInvalidCredentials
	}
	if m == nil || !identity.VerifyCredential(m.CredentialHash, password) {
		return nil, ErrInvalidCredentials
	}

	s.repair(ctx, m, email, password)

	sess, err = s.idp.SignIn(ctx, email, password)
	if err != nil {
		s.logger.Warn("sign in retry after repair failed", "email", email, "error", err)
		return nil, ErrInvalidCredentials
	}
	return s.authenticated(ctx, sess, email, true)
}

// repair makes the identity for m accept password. Every step logs and
// continues; the retry decides the outcome.
func (s *Service) repair(ctx context.Context, m *model.Merchant, email, password string) {
	if m.IdentityID != nil {
		err := s.idp.UpdateCredential(ctx, *m.IdentityID, password)
		if err == nil {
			s.logger.Info("repaired identity credential", "merchant_id", m.ID, "identity_id", *m.IdentityID)
			return
		}
		if !errors.Is(err, identity.ErrNotFound) {
			s.logger.Error("update credential during repair", "merchant_id", m.ID, "error", err)
			return
		}
		// Dangling link: fall through and create the identity.
		s.logger.Warn("merchant linked to missing identity", "merchant_id", m.ID, "identity_id", *m.IdentityID)
	}

	ident, err := s.idp.CreateIdentity(ctx, email, password, true)
	if errors.Is(err, identity.ErrAlreadyExists) {
		ident, err = s.idp.FindByEmail(ctx, email)
		if err == nil && ident != nil {
			err = s.idp.UpdateCredential(ctx, ident.ID, password)
		}
	}
	if err != nil || ident == nil {
		s.logger.Error("create identity during repair", "merchant_id", m.ID, "email", email, "error", err)
		return
	}

	if err := identity.ReconcileLink(ctx, s.access.Privileged(), m, ident.ID); err != nil {
		s.logger.Error("link identity during repair", "merchant_id", m.ID, "identity_id", ident.ID, "error", err)
		return
	}
	s.logger.Info("repaired merchant identity link", "merchant_id", m.ID, "identity_id", ident.ID)
}

func (s *Service) authenticated(ctx context.Context, sess *model.Session, email string, repaired bool) (*Result, error) {
	m, err := s.resolver.ResolveMerchant(ctx, s.access.Restricted(sess.IdentityID), s.access.Privileged(), sess.IdentityID, email)
	if err != nil {
		s.logger.Error("resolve merchant after sign in", "email", email, "error", err)
		s.signOut(ctx, sess)
		return nil, ErrUnavailable
	}
	if m == nil {
		s.signOut(ctx, sess)
		return nil, ErrNotMerchant
	}
	return &Result{Session: sess, Merchant: m, Repaired: repaired}, nil
}

func (s *Service) signOut(ctx context.Context, sess *model.Session) {
	if err := s.idp.SignOut(ctx, sess.Token); err != nil {
		s.logger.Warn("sign out", "identity_id", sess.IdentityID, "error", err)
	}
}
