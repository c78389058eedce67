package login

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

// Option configures a Service.
type Option func(*Service)

// WithAdmins names the identities that may use the admin console.
func WithAdmins(emails []string) Option {
	return func(s *Service) {
		for _, e := range emails {
			if e = store.NormalizeEmail(e); e != "" {
				s.admins[e] = true
			}
		}
	}
}

// IsAdmin reports whether email is on the admin list.
func (s *Service) IsAdmin(email string) bool {
	return s.admins[store.NormalizeEmail(email)]
}

// SignInAdmin authenticates an admin. There is no merchant check and no
// repair. Addresses off the admin list fail like a wrong password.
func (s *Service) SignInAdmin(ctx context.Context, email, password string) (*model.Session, error) {
	email = store.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || strings.TrimSpace(password) == "" {
		return nil, ErrInvalidInput
	}
	if !s.admins[email] {
		s.logger.Warn("admin sign in for unlisted address", "email", email)
		return nil, ErrInvalidCredentials
	}

	sess, err := s.idp.SignIn(ctx, email, password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return nil, ErrInvalidCredentials
	case err != nil:
		s.logger.Error("admin sign in failed", "email", email, "error", err)
		return nil, ErrUnavailable
	}
	s.logger.Info("admin signed in", "email", email)
	return sess, nil
}
