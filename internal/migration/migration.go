package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

var (
	ErrNoMigrations = errors.New("no_embedded_migrations")
	// ErrDirtySchema means a previous run stopped halfway through a version.
	// The settlement tables are not touched until an operator forces it.
	ErrDirtySchema = errors.New("dirty_schema")
)

// Result reports the schema version before and after a run.
type Result struct {
	From uint
	To   uint
}

// RunMigrations brings the postgres schema up to LatestVersion. Versions are
// tracked in schema_migrations, so repeated runs are no-ops.
func RunMigrations(db *sql.DB) (Result, error) {
	var result Result
	if db == nil {
		return result, errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return result, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return result, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return result, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return result, fmt.Errorf("create migrator: %w", err)
	}
	// migrator.Close would close the shared *sql.DB.

	from, dirty, err := migrator.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return result, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return result, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}
	result.From = from

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return result, fmt.Errorf("apply migrations: %w", err)
	}

	to, _, err := migrator.Version()
	if err != nil {
		return result, fmt.Errorf("read schema version: %w", err)
	}
	result.To = to
	return result, nil
}

// LatestVersion is the highest version among the embedded up migrations.
func LatestVersion() (uint, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return 0, err
	}

	var latest uint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return 0, fmt.Errorf("migration %q has no version prefix", name)
		}
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("migration %q: %w", name, err)
		}
		if uint(version) > latest {
			latest = uint(version)
		}
	}
	if latest == 0 {
		return 0, ErrNoMigrations
	}
	return latest, nil
}
