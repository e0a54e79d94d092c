package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"peertrade/internal/config"
	"peertrade/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Applies the Postgres migrations in lexical order. Each file runs inside a
// transaction together with its schema_migrations row, so a failed migration
// leaves nothing half-applied. The SQLite backend bootstraps its own schema
// and never uses this runner.
func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load("")
	if err != nil {
		zap.L().Fatal("config load failed", zap.Error(err))
	}
	if cfg.DB.DSN == "" {
		zap.L().Fatal("db.dsn is required for migrations")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		zap.L().Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	if err := run(ctx, pool, "migrations"); err != nil {
		zap.L().Fatal("migrate failed", zap.Error(err))
	}
}

func run(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, file := range files {
		if applied[file] {
			zap.L().Debug("already applied", zap.String("file", file))
			continue
		}
		if err := apply(ctx, pool, file); err != nil {
			return err
		}
		zap.L().Info("applied", zap.String("file", file))
	}
	return nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if sqlText := strings.TrimSpace(string(data)); sqlText != "" {
		if _, err := tx.Exec(ctx, sqlText); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
