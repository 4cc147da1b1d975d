package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Migrate applies every *.up.sql file of fsys that is not yet recorded in schema_migrations,
// in lexical order, each in its own transaction.
func Migrate(ctx context.Context, db *sqlx.DB, fsys fs.FS, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return wrapErr("create schema_migrations", err)
	}

	files, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	var applied []string
	if err := db.SelectContext(ctx, &applied, "SELECT version FROM schema_migrations"); err != nil {
		return wrapErr("load applied migrations", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	tm := NewTransactionManager(db)
	for _, file := range files {
		version := strings.TrimSuffix(file, ".up.sql")
		if done[version] {
			continue
		}

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		err = tm.WithTransaction(ctx, func(txCtx context.Context) error {
			ex := GetExecutor(txCtx, db)
			if _, err := ex.ExecContext(txCtx, string(body)); err != nil {
				return wrapErr("apply "+version, err)
			}
			_, err := ex.ExecContext(txCtx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return wrapErr("record "+version, err)
		})
		if err != nil {
			return err
		}

		logger.Info("applied migration", "version", version)
	}

	return nil
}
