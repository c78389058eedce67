package identity

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashCredential bcrypt-hashes a credential after checking its length.
func HashCredential(credential string) (string, error) {
	if len(credential) < MinCredentialLength {
		return "", ErrWeakCredential
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// VerifyCredential reports whether credential matches hash. An empty hash
// never matches, but still costs a comparison.
func VerifyCredential(hash, credential string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(credential))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)) == nil
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("mise-timing-equalizer"), bcrypt.DefaultCost)
	})
	return dummy
}
