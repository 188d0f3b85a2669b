package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sugvoyage/sugvoyage/internal/adapters/postgres"
	"github.com/sugvoyage/sugvoyage/internal/pkg/config"
	"github.com/sugvoyage/sugvoyage/internal/pkg/logging"
)

const migrationsGlob = "migrations/*.sql"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|status>")
	}

	cfg, err := config.Load("sugvoyage-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, "text")

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 2)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "up":
		n, err := up(ctx, db)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		logger.Info("migrations applied", "count", n)
	case "status":
		files, applied, err := status(ctx, db)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		for _, f := range files {
			state := "pending"
			if applied[filepath.Base(f)] {
				state = "applied"
			}
			logger.Info(filepath.Base(f), "state", state)
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func ensureTable(ctx context.Context, db *postgres.DB) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return eris.Wrap(err, "create schema_migrations")
}

func status(ctx context.Context, db *postgres.DB) ([]string, map[string]bool, error) {
	if err := ensureTable(ctx, db); err != nil {
		return nil, nil, err
	}
	files, err := filepath.Glob(migrationsGlob)
	if err != nil {
		return nil, nil, eris.Wrap(err, "list migrations")
	}
	sort.Strings(files)

	rows, err := db.Pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, nil, eris.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, nil, eris.Wrap(err, "scan schema_migrations")
		}
		applied[name] = true
	}
	return files, applied, rows.Err()
}

// up applies pending migrations in file name order, each with its bookkeeping
// row, and returns how many ran.
func up(ctx context.Context, db *postgres.DB) (int, error) {
	files, applied, err := status(ctx, db)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range files {
		name := filepath.Base(f)
		if applied[name] {
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return n, eris.Wrapf(err, "read %s", f)
		}
		if _, err := db.Pool.Exec(ctx, string(data)); err != nil {
			return n, eris.Wrapf(err, "exec %s", f)
		}
		if _, err := db.Pool.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			return n, eris.Wrapf(err, "record %s", f)
		}
		log.Printf("OK  %s", name)
		n++
	}
	return n, nil
}
