package login

import (
	"context"
	"errors"
	"net/mail"

	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

// CompletePasswordSetup consumes an invitation or recovery token, sets the
// password on both the identity and the merchant record, links them and
// signs the merchant in.
func (s *Service) CompletePasswordSetup(ctx context.Context, token, password string) (*Result, error) {
	ident, err := s.idp.CompleteRecovery(ctx, token, password)
	switch {
	case errors.Is(err, identity.ErrWeakCredential), errors.Is(err, identity.ErrInvalidToken):
		return nil, err
	case err != nil:
		s.logger.Error("complete recovery", "error", err)
		return nil, ErrUnavailable
	}

	priv := s.access.Privileged()
	merchants := store.NewMerchantStore(priv.For("password setup: merchant credential"))
	m, err := merchants.GetByEmail(ctx, ident.Email)
	if err != nil {
		s.logger.Error("merchant lookup during password setup", "email", ident.Email, "error", err)
	}
	if m != nil {
		if hash, err := identity.HashCredential(password); err != nil {
			s.logger.Error("hash merchant credential", "merchant_id", m.ID, "error", err)
		} else if err := merchants.SetCredentialHash(ctx, m.ID, hash); err != nil {
			s.logger.Error("store merchant credential", "merchant_id", m.ID, "error", err)
		}
		if err := identity.ReconcileLink(ctx, priv, m, ident.ID); err != nil {
			s.logger.Error("link identity during password setup", "merchant_id", m.ID, "identity_id", ident.ID, "error", err)
		}
	}

	sess, err := s.idp.SignIn(ctx, ident.Email, password)
	if err != nil {
		s.logger.Error("sign in after password setup", "email", ident.Email, "error", err)
		return nil, ErrUnavailable
	}
	if m == nil && s.IsAdmin(ident.Email) {
		return &Result{Session: sess, Admin: true}, nil
	}
	return s.authenticated(ctx, sess, ident.Email, false)
}

// RequestRecovery mails a reset link if email belongs to a merchant or an
// admin. It reports nothing about whether it did, so callers always answer
// the same.
func (s *Service) RequestRecovery(ctx context.Context, addr, locale string) {
	addr = store.NormalizeEmail(addr)
	if _, err := mail.ParseAddress(addr); err != nil {
		return
	}

	m, err := store.NewMerchantStore(s.access.Privileged().For("recovery: find merchant")).GetByEmail(ctx, addr)
	if err != nil {
		s.logger.Error("merchant lookup for recovery", "email", addr, "error", err)
		return
	}
	if m == nil && !s.IsAdmin(addr) {
		return
	}

	// A merchant provisioned before identities existed has none yet.
	if _, err := s.idp.CreateIdentity(ctx, addr, "", true); err != nil && !errors.Is(err, identity.ErrAlreadyExists) {
		s.logger.Error("create identity for recovery", "email", addr, "error", err)
		return
	}

	link, err := s.idp.GenerateRecoveryLink(ctx, addr, model.PurposeRecovery)
	if err != nil {
		s.logger.Error("generate recovery link", "email", addr, "error", err)
		return
	}
	if locale == "" && m != nil {
		locale = m.Locale
	}
	if err := s.mailer.Send(ctx, email.Recovery(addr, link, locale)); err != nil {
		s.logger.Error("send recovery email", "email", addr, "error", err)
	}
}

// SignOut ends the session. Unknown tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.idp.SignOut(ctx, token)
}
