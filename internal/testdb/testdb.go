// Package testdb provides helpers for integration tests that need a
// real PostgreSQL database. Tests using it skip automatically when no
// database is configured, so the default test run stays hermetic.
package testdb

import (
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	// Registers the pgx driver for database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// envDatabaseURL is the environment variable holding the test database
// connection string.
const envDatabaseURL = "DATABASE_URL"

// URL returns the configured test database URL, or empty when none is
// configured.
func URL() string {
	return os.Getenv(envDatabaseURL)
}

// New opens a connection to the test database, applies migrations, and
// truncates the runs table so the test starts from a clean slate. The
// test is skipped when no database is configured. The connection is
// closed automatically when the test finishes.
func New(t *testing.T) *sql.DB {
	t.Helper()

	url := URL()
	if url == "" {
		t.Skipf("skipping database test: %s not set", envDatabaseURL)
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("failed to set migration dialect: %v", err)
	}
	if err := goose.Up(db, migrationsDir(t)); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	if _, err := db.Exec("TRUNCATE TABLE runs"); err != nil {
		t.Fatalf("failed to truncate runs table: %v", err)
	}

	return db
}

// migrationsDir locates the migrations directory relative to this
// source file, so tests work regardless of the package they run from.
func migrationsDir(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to determine caller location")
	}
	dir := filepath.Join(filepath.Dir(file), "..", "platform", "postgres", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}
