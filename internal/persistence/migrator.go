package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator runs SQL migration files in order.
// Compatible with golang-migrate file naming: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

// NewMigrator reads migrations from files, usually migrations.FS or an
// os.DirFS over a directory.
func NewMigrator(db *sql.DB, files fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, files: files, logger: logger}
}

// Up applies all pending up-migrations in order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied versions: %w", err)
	}

	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	ran := 0
	for _, f := range files {
		version := extractVersion(f)
		if applied[version] {
			continue
		}
		if err := m.apply(ctx, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				version, f,
			)
			return err
		}); err != nil {
			return ran, err
		}
		ran++
		m.logger.Info().Str("file", f).Msg("applied migration")
	}
	return ran, nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	if err := m.apply(ctx, downFile, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version)
		return err
	}); err != nil {
		return err
	}
	m.logger.Info().Str("file", downFile).Msg("rolled back migration")
	return nil
}

// apply runs one file and its bookkeeping in a single transaction.
func (m *Migrator) apply(ctx context.Context, name string, record func(*sql.Tx) error) error {
	content, err := fs.ReadFile(m.files, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Applied returns the set of applied versions.
func (m *Migrator) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix from a migration filename,
// e.g. "000001_levfarm.up.sql" -> "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
