// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds everything cmd/mise needs to wire the service.
type Config struct {
	Port           string
	DatabaseURL    string
	BaseURL        string
	LogLevel       string
	LogFormat      string
	BackendTimeout time.Duration

	PostmarkToken string
	FromEmail     string
	ReplyTo       string
	EmailStream   string
	AdminEmails   []string

	StripeSecretKey     string
	StripeWebhookSecret string
	MonthlyPriceID      string
	AnnualPriceID       string
	SetupPriceID        string
}

// Load reads the environment, applying defaults for anything unset.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:                envOr(getenv, "MISE_PORT", "8090"),
		DatabaseURL:         envOr(getenv, "MISE_DATABASE_URL", "mise.db"),
		LogLevel:            getenv("MISE_LOG_LEVEL"),
		LogFormat:           getenv("MISE_LOG_FORMAT"),
		PostmarkToken:       getenv("MISE_POSTMARK_TOKEN"),
		FromEmail:           getenv("MISE_FROM_EMAIL"),
		ReplyTo:             getenv("MISE_REPLY_TO"),
		EmailStream:         envOr(getenv, "MISE_POSTMARK_STREAM", "outbound"),
		AdminEmails:         splitList(getenv("MISE_ADMIN_EMAILS")),
		StripeSecretKey:     getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: getenv("STRIPE_WEBHOOK_SECRET"),
		MonthlyPriceID:      getenv("STRIPE_MONTHLY_PRICE_ID"),
		AnnualPriceID:       getenv("STRIPE_ANNUAL_PRICE_ID"),
		SetupPriceID:        getenv("STRIPE_SETUP_PRICE_ID"),
	}

	cfg.BaseURL = strings.TrimRight(getenv("MISE_BASE_URL"), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%s", cfg.Port)
	}

	cfg.BackendTimeout = 5 * time.Second
	if raw := getenv("MISE_BACKEND_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse MISE_BACKEND_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("MISE_BACKEND_TIMEOUT must be positive, got %s", raw)
		}
		cfg.BackendTimeout = d
	}

	return cfg, nil
}

// BillingEnabled reports whether checkout, portal and webhook routes can run.
func (c Config) BillingEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

// splitList lowercases entries; the only list is admin emails.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
