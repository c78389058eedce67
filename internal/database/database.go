package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Latest migrates to the newest schema version.
const Latest int64 = -1

const pingTimeout = 5 * time.Second

// IsPostgres reports whether dsn selects the postgres driver.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to the database named by dsn and runs all migrations.
// A postgres:// URL selects lib/pq; anything else is a SQLite path.
func Open(dsn string) (*sql.DB, error) {
	return OpenAt(dsn, Latest)
}

// OpenAt is Open with migrations stopped at version. Pass Latest for all.
func OpenAt(dsn string, version int64) (*sql.DB, error) {
	driver, source, dialect := "sqlite", sqliteSource(dsn), "sqlite3"
	if IsPostgres(dsn) {
		driver, source, dialect = "postgres", dsn, "postgres"
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Each connection to :memory: gets its own database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db, dialect, version); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func sqliteSource(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
}

func runMigrations(db *sql.DB, dialect string, version int64) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if version == Latest {
		if err := goose.Up(db, "migrations"); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		return nil
	}

	if err := goose.UpTo(db, "migrations", version); err != nil {
		return fmt.Errorf("goose up to %d: %w", version, err)
	}
	return nil
}
