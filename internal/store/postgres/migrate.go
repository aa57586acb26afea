package postgres

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations lists the embedded migration files in apply order.
func Migrations() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies pending migrations, each in its own transaction, and
// returns the versions it applied. 000 creates the tracking table.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	files, err := Migrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, filename := range files {
		version := strings.SplitN(filename, "_", 2)[0]

		if version != "000" {
			var exists bool
			err := db.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
			if err != nil {
				return applied, errors.Wrapf(err, "check migration %s", filename)
			}
			if exists {
				logger.Debug("migrate: already applied", zap.String("migration", filename))
				continue
			}
		}

		body, err := migrationsFS.ReadFile(path.Join("migrations", filename))
		if err != nil {
			return applied, errors.Wrapf(err, "read %s", filename)
		}

		logger.Info("migrate: applying", zap.String("migration", filename), zap.String("version", version))

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, errors.Wrapf(err, "begin tx for %s", filename)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return applied, errors.Wrapf(err, "execute %s", filename)
		}
		if version != "000" {
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
				_ = tx.Rollback()
				return applied, errors.Wrapf(err, "record %s", filename)
			}
		}
		if err := tx.Commit(); err != nil {
			return applied, errors.Wrapf(err, "commit %s", filename)
		}
		if version != "000" {
			applied = append(applied, version)
		}
	}
	return applied, nil
}
