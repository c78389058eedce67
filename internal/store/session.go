package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
)

const (
	sessionsTable = "sessions"
	SessionTTL    = 30 * 24 * time.Hour
)

type SessionStore struct {
	s backend.Store
}

func NewSessionStore(s backend.Store) *SessionStore {
	return &SessionStore{s: s}
}

// randomToken returns n crypto-random bytes hex-encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create generates a new session with a crypto-random token and 30-day expiry.
func (s *SessionStore) Create(ctx context.Context, identityID string) (*model.Session, error) {
	token, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &model.Session{
		Token:      token,
		IdentityID: identityID,
		ExpiresAt:  now.Add(SessionTTL),
		CreatedAt:  now,
	}
	err = s.s.Insert(ctx, sessionsTable, backend.Row{
		"token":       sess.Token,
		"identity_id": sess.IdentityID,
		"expires_at":  sess.ExpiresAt,
		"created_at":  sess.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetByToken returns the session for the given token, or nil if expired or not found.
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	row, err := backend.FindOne(ctx, s.s, sessionsTable, backend.Filter{
		backend.Eq("token", token),
		backend.After("expires_at", time.Now().UTC()),
	})
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return &model.Session{
		Token:      row.String("token"),
		IdentityID: row.String("identity_id"),
		ExpiresAt:  row.Time("expires_at"),
		CreatedAt:  row.Time("created_at"),
	}, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if _, err := s.s.Delete(ctx, sessionsTable, backend.Filter{backend.Eq("token", token)}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.s.Delete(ctx, sessionsTable, backend.Filter{backend.NotAfter("expires_at", time.Now().UTC())})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}
