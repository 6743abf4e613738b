package db

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/migrations"
)

type migrationFile struct {
	Name     string
	DirName  string
	FullPath string
}

// Migrate applies every embedded migration directory not yet recorded in
// schema_migrations. Each file runs in its own transaction.
func (d *DB) Migrate(ctx context.Context) error {
	logger := d.log.With(zap.String("method", "Migrate"))
	logger.Debug("Running database migrations")

	if err := d.createMigrationsTable(ctx); err != nil {
		return errors.Wrap(err, "failed to create migrations table")
	}

	migrationFiles, err := getMigrationFiles(migrations.FS)
	if err != nil {
		return errors.Wrap(err, "failed to get migration files")
	}

	applied, err := d.getAppliedMigrations(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get applied migrations")
	}

	for _, migration := range migrationFiles {
		if applied[migration.FullPath] {
			logger.Debug("Migration already applied", zap.String("migration", migration.FullPath))
			continue
		}

		content, err := migrations.FS.ReadFile(migration.FullPath)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file: %s", migration.FullPath)
		}

		logger.Info("Applying migration",
			zap.String("migration", migration.DirName),
			zap.String("file", migration.Name))

		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin transaction")
		}

		for _, stmt := range splitStatements(string(content)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "failed to execute migration: %s", migration.DirName)
			}
		}

		if _, err := tx.ExecContext(ctx,
			tx.Rebind("INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)"),
			migration.FullPath, time.Now().UTC()); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record migration: %s", migration.DirName)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration: %s", migration.DirName)
		}
	}

	logger.Debug("All migrations completed")

	return nil
}

func (d *DB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`

	_, err := d.db.ExecContext(ctx, query)

	return err
}

func getMigrationFiles(fsys fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var migrationFiles []migrationFile

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dirName := entry.Name()

		dirEntries, err := fs.ReadDir(fsys, dirName)
		if err != nil {
			continue
		}

		for _, fileEntry := range dirEntries {
			if fileEntry.IsDir() || !strings.HasSuffix(fileEntry.Name(), ".sql") {
				continue
			}

			migrationFiles = append(migrationFiles, migrationFile{
				Name:     fileEntry.Name(),
				DirName:  dirName,
				FullPath: dirName + "/" + fileEntry.Name(),
			})
		}
	}

	sort.Slice(migrationFiles, func(i, j int) bool {
		if migrationFiles[i].DirName == migrationFiles[j].DirName {
			return migrationFiles[i].Name < migrationFiles[j].Name
		}

		return migrationFiles[i].DirName < migrationFiles[j].DirName
	})

	return migrationFiles, nil
}

func (d *DB) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	applied := make(map[string]bool)

	names := make([]string, 0)

	if err := d.db.SelectContext(ctx, &names, "SELECT name FROM schema_migrations"); err != nil {
		return nil, err
	}

	for _, name := range names {
		applied[name] = true
	}

	return applied, nil
}

// splitStatements breaks a migration into individual statements; the schema
// files never contain ';' inside a statement.
func splitStatements(content string) []string {
	stmts := make([]string, 0)

	for _, s := range strings.Split(content, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}

	return stmts
}
