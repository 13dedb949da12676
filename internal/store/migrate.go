package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// ErrDirtySchema is returned when a previous migration failed half way and
// the schema needs manual repair before the service can start.
var ErrDirtySchema = errors.New("database schema is dirty")

// MigrationsSource turns a migrations directory into a golang-migrate source URL.
func MigrationsSource(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "file://" + filepath.ToSlash(dir)
}

// RunMigrations applies the subscriptions/lives schema found in dir to the
// Postgres database at dsn and logs the resulting version.
func RunMigrations(dsn, dir string, log zerolog.Logger) error {
	m, err := migrate.New(MigrationsSource(dir), dsn)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return ErrDirtySchema
	}
	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
	case err != nil:
		return fmt.Errorf("migrate.Up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate.Version: %w", err)
	}
	log.Info().Uint("schema_version", version).Msg("migrations applied")
	return nil
}
