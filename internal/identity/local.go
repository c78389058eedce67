package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

const (
	InviteTTL   = 24 * time.Hour
	RecoveryTTL = time.Hour
)

// LocalProvider implements Provider on the service's own tables. It holds
// the privileged capability because identities sit outside row policies.
type LocalProvider struct {
	priv    backend.Privileged
	baseURL string
	logger  *slog.Logger
}

func NewLocalProvider(priv backend.Privileged, baseURL string, logger *slog.Logger) *LocalProvider {
	return &LocalProvider{
		priv:    priv,
		baseURL: baseURL,
		logger:  logger.With("component", "identity"),
	}
}

func (p *LocalProvider) identities(purpose string) *store.IdentityStore {
	return store.NewIdentityStore(p.priv.For("identity: " + purpose))
}

func (p *LocalProvider) sessions(purpose string) *store.SessionStore {
	return store.NewSessionStore(p.priv.For("identity: " + purpose))
}

func (p *LocalProvider) tokens(purpose string) *store.RecoveryTokenStore {
	return store.NewRecoveryTokenStore(p.priv.For("identity: " + purpose))
}

func (p *LocalProvider) CreateIdentity(ctx context.Context, email, credential string, emailConfirmed bool) (*model.Identity, error) {
	var hash string
	if credential != "" {
		h, err := HashCredential(credential)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	ident, err := p.identities("create").Create(ctx, email, hash, emailConfirmed)
	if errors.Is(err, backend.ErrConstraintViolation) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	p.logger.Info("identity created", "identity_id", ident.ID, "email", ident.Email)
	return ident, nil
}

func (p *LocalProvider) UpdateCredential(ctx context.Context, identityID, credential string) error {
	hash, err := HashCredential(credential)
	if err != nil {
		return err
	}
	err = p.identities("update credential").UpdatePasswordHash(ctx, identityID, hash)
	if errors.Is(err, backend.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *LocalProvider) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return p.identities("find by email").GetByEmail(ctx, email)
}

func (p *LocalProvider) GenerateRecoveryLink(ctx context.Context, email, purpose string) (string, error) {
	ident, err := p.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if ident == nil {
		return "", ErrNotFound
	}

	ttl := RecoveryTTL
	if purpose == model.PurposeInvite {
		ttl = InviteTTL
	}
	rt, err := p.tokens("issue recovery").Create(ctx, ident.ID, purpose, ttl)
	if err != nil {
		return "", err
	}
	return p.baseURL + "/password/setup?token=" + url.QueryEscape(rt.Token), nil
}

func (p *LocalProvider) CompleteRecovery(ctx context.Context, token, credential string) (*model.Identity, error) {
	if len(credential) < MinCredentialLength {
		return nil, ErrWeakCredential
	}
	tokens := p.tokens("complete recovery")
	rt, err := tokens.GetValid(ctx, token)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		return nil, ErrInvalidToken
	}
	used, err := tokens.MarkUsed(ctx, token)
	if err != nil {
		return nil, err
	}
	if !used {
		return nil, ErrInvalidToken
	}
	if err := p.UpdateCredential(ctx, rt.IdentityID, credential); err != nil {
		// The link stays usable when the credential could not be stored.
		if rerr := tokens.Release(ctx, token); rerr != nil {
			p.logger.Error("release recovery token", "identity_id", rt.IdentityID, "error", rerr)
		}
		return nil, err
	}
	return p.identities("complete recovery").GetByID(ctx, rt.IdentityID)
}

func (p *LocalProvider) SignIn(ctx context.Context, email, credential string) (*model.Session, error) {
	ident, err := p.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	hash := ""
	if ident != nil {
		hash = ident.PasswordHash
	}
	if !VerifyCredential(hash, credential) {
		return nil, ErrInvalidCredentials
	}
	return p.sessions("sign in").Create(ctx, ident.ID)
}

func (p *LocalProvider) CurrentUser(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	sess, err := p.sessions("current user").GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	ident, err := p.identities("current user").GetByID(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrNoSession
	}
	return ident, nil
}

func (p *LocalProvider) SignOut(ctx context.Context, token string) error {
	return p.sessions("sign out").Delete(ctx, token)
}

// DeleteExpiredSessions is called from the cleanup ticker.
func (p *LocalProvider) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return p.sessions("cleanup").DeleteExpired(ctx)
}
