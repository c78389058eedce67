package model

import "time"

type Session struct {
	Token      string    `json:"-"`
	IdentityID string    `json:"identity_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recovery token purposes.
const (
	PurposeInvite   = "invite"
	PurposeRecovery = "recovery"
)

type RecoveryToken struct {
	Token      string     `json:"-"`
	IdentityID string     `json:"identity_id"`
	Purpose    string     `json:"purpose"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
