// Package identity manages authentication identities and their link to
// merchant records.
package identity

import (
	"context"
	"errors"

	"github.com/dukerupert/mise/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyExists      = errors.New("identity already exists")
	ErrNotFound           = errors.New("identity not found")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNoSession          = errors.New("no session")
	ErrWeakCredential     = errors.New("password must be at least 8 characters")
)

// MinCredentialLength applies to every credential a person chooses.
const MinCredentialLength = 8

// Provider is the identity service the rest of the system talks to.
type Provider interface {
	// CreateIdentity fails with ErrAlreadyExists if the email is taken. An
	// empty credential creates an identity that cannot sign in until a
	// credential is set.
	CreateIdentity(ctx context.Context, email, credential string, emailConfirmed bool) (*model.Identity, error)
	// UpdateCredential fails with ErrNotFound for an unknown id.
	UpdateCredential(ctx context.Context, identityID, credential string) error
	// FindByEmail returns nil when no identity has the email.
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)
	// GenerateRecoveryLink returns a single-use password setup URL.
	GenerateRecoveryLink(ctx context.Context, email, purpose string) (string, error)
	// CompleteRecovery consumes a recovery token and sets the credential.
	CompleteRecovery(ctx context.Context, token, credential string) (*model.Identity, error)
	// SignIn fails with ErrInvalidCredentials without saying which half was wrong.
	SignIn(ctx context.Context, email, credential string) (*model.Session, error)
	// CurrentUser fails with ErrNoSession for unknown or expired tokens.
	CurrentUser(ctx context.Context, token string) (*model.Identity, error)
	SignOut(ctx context.Context, token string) error
}
