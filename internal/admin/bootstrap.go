package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

// BootstrapAdmins creates an identity for every admin address that has none
// and mails it a password setup link. Existing identities are left alone.
// It returns how many identities were created.
func (s *Service) BootstrapAdmins(ctx context.Context, emails []string) (int, error) {
	created := 0
	for _, addr := range emails {
		addr = store.NormalizeEmail(addr)
		if addr == "" {
			continue
		}

		ident, err := s.idp.FindByEmail(ctx, addr)
		if err != nil {
			return created, fmt.Errorf("find admin identity: %w", err)
		}
		if ident != nil {
			continue
		}

		_, err = s.idp.CreateIdentity(ctx, addr, "", true)
		if errors.Is(err, identity.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create admin identity: %w", err)
		}
		created++

		link, err := s.idp.GenerateRecoveryLink(ctx, addr, model.PurposeInvite)
		if err != nil {
			s.logger.Error("generate admin setup link", "email", addr, "error", err)
			continue
		}
		if err := s.mailer.Send(ctx, email.Recovery(addr, link, "")); err != nil {
			s.logger.Error("send admin setup link", "email", addr, "error", err)
			continue
		}
		s.logger.Info("admin identity bootstrapped", "email", addr)
	}
	return created, nil
}
