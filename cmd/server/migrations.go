package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/antoleandarius/copilot-fix-bridge/internal/config"
)

// migrationsDir is the repository-relative directory holding the goose
// migration files.
const migrationsDir = "internal/platform/postgres/migrations"

// slogGooseLogger adapts goose's logger interface to slog.
type slogGooseLogger struct{}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

// runMigrations executes the given goose command (up, down, or status)
// against the configured database and returns when it completes.
func runMigrations(cfg *config.Config, command string) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is empty: migrations require a configured database")
	}

	dir, err := findMigrationsDir()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
		}
	}()

	goose.SetLogger(&slogGooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	start := time.Now()
	slog.Info("Running migrations", "command", command, "dir", dir)

	switch command {
	case "up":
		err = goose.Up(db, dir)
	case "down":
		err = goose.Down(db, dir)
	case "status":
		err = goose.Status(db, dir)
	default:
		return fmt.Errorf("unknown migration command %q (want up, down, or status)", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	slog.Info("Migrations completed",
		"command", command,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// findMigrationsDir resolves the migrations directory relative to the
// working directory, walking up so the binary also works when started
// from a subdirectory of the repository.
func findMigrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to determine working directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, migrationsDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("migrations directory %q not found", migrationsDir)
		}
		dir = parent
	}
}
