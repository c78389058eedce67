package store

import "strings"

// NormalizeEmail is the form every table stores emails in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
