package config

import (
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8090")
	}
	if cfg.DatabaseURL != "mise.db" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "mise.db")
	}
	if cfg.BaseURL != "http://localhost:8090" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:8090")
	}
	if cfg.BackendTimeout != 5*time.Second {
		t.Errorf("BackendTimeout = %v, want 5s", cfg.BackendTimeout)
	}
	if cfg.EmailStream != "outbound" {
		t.Errorf("EmailStream = %q, want outbound", cfg.EmailStream)
	}
	if cfg.BillingEnabled() {
		t.Error("expected billing disabled without stripe keys")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"MISE_PORT":             "9000",
		"MISE_BASE_URL":         "https://mise.example/",
		"MISE_BACKEND_TIMEOUT":  "750ms",
		"MISE_ADMIN_EMAILS":     " Ops@Mise.example, ,root@mise.example",
		"STRIPE_SECRET_KEY":     "sk_test",
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "https://mise.example" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.BackendTimeout != 750*time.Millisecond {
		t.Errorf("BackendTimeout = %v, want 750ms", cfg.BackendTimeout)
	}
	if len(cfg.AdminEmails) != 2 || cfg.AdminEmails[0] != "ops@mise.example" {
		t.Errorf("AdminEmails = %v, want [ops@mise.example root@mise.example]", cfg.AdminEmails)
	}
	if !cfg.BillingEnabled() {
		t.Error("expected billing enabled")
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	if _, err := load(envMap(map[string]string{"MISE_BACKEND_TIMEOUT": "soon"})); err == nil {
		t.Error("expected error for unparseable timeout")
	}
	if _, err := load(envMap(map[string]string{"MISE_BACKEND_TIMEOUT": "-1s"})); err == nil {
		t.Error("expected error for negative timeout")
	}
}
