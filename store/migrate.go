/*
Logic:       Schema migrations via golang-migrate with the SQL files
             embedded into the binary (no migrations directory to ship
             separately). Grounded on the teacher pack's
             pkg/database/client.go, which wires the same
             iofs-source-over-embed.FS + postgres-driver combination.
*/

package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending migration embedded under migrations/.
// It is idempotent: a schema already at the latest version returns nil.
func (d *DB) Migrate() error {
	sqlDB := d.sqlx.DB

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "content_gateway", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Only the source driver is closed here — closing the migrate
	// instance would close sqlDB, which d's callers still own.
	srcErr := source.Close()
	if srcErr != nil {
		return fmt.Errorf("close migration source: %w", srcErr)
	}
	return nil
}
