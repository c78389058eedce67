package database

import (
	"os"
	"testing"
)

func columnExists(t *testing.T, dbName string, openVersion int64, column string) bool {
	t.Helper()
	db, err := OpenAt(dbName, openVersion)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT name FROM pragma_table_info('merchants')`)
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if name == column {
			found = true
		}
	}
	return found
}

func TestOpenMigratesToLatest(t *testing.T) {
	if !columnExists(t, ":memory:", Latest, "identity_id") {
		t.Error("expected merchants.identity_id after full migration")
	}
}

func TestOpenAtStopsBeforeLinkColumn(t *testing.T) {
	if columnExists(t, ":memory:", 3, "identity_id") {
		t.Error("merchants.identity_id present at version 3")
	}
}

func TestOpenCreatesTables(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"identities", "sessions", "recovery_tokens", "merchants", "subscriptions", "webhook_events", "restaurants", "reviews", "newsletter_signups"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Errorf("count %s: %v", table, err)
		}
	}
}

func TestIsPostgres(t *testing.T) {
	if !IsPostgres("postgres://mise@localhost/mise") {
		t.Error("postgres:// not detected")
	}
	if !IsPostgres("postgresql://mise@localhost/mise") {
		t.Error("postgresql:// not detected")
	}
	if IsPostgres("mise.db") {
		t.Error("sqlite path detected as postgres")
	}
}

func TestOpenPostgres(t *testing.T) {
	dsn := os.Getenv("MISE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MISE_TEST_POSTGRES_DSN not set")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM merchants`).Scan(&n); err != nil {
		t.Errorf("count merchants: %v", err)
	}
}
