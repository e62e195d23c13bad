package appstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/nextlevelbuilder/botserver/internal/upgrade"
	"github.com/nextlevelbuilder/botserver/migrations"
)

// bootstrapStandaloneSchema applies the embedded SQLite migrations to the
// standalone main database and runs pending data hooks. Standalone mode
// has no operator-driven `migrate up` step in its lifecycle: the gateway
// owns its own SQLite file, so a fresh deployment must come up with a
// complete schema straight from Boot. Idempotent: an already-migrated
// database is a no-op.
func bootstrapStandaloneSchema(ctx context.Context, db *sql.DB) error {
	src, err := iofs.New(migrations.FS, migrations.Dir(false))
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	drv, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// No m.Close(): it would close the shared *sql.DB through the driver.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply sqlite migrations: %w", err)
	}

	if _, err := upgrade.RunPendingHooks(ctx, db, false); err != nil {
		return fmt.Errorf("run data hooks: %w", err)
	}
	return nil
}
