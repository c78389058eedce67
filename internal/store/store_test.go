package store

import (
	"testing"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/database"
)

func openTestStore(t *testing.T) backend.Store {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return backend.NewSQLStore(db, backend.SQLite, 2*time.Second)
}
