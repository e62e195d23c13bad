package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botserver/internal/config"
	"github.com/nextlevelbuilder/botserver/internal/upgrade"
)

var migrationsDir string

func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	// Allow env override (used by Docker entrypoint).
	if v := os.Getenv("BOTSERVER_MIGRATIONS_DIR"); v != "" {
		return v
	}
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// withMigrator opens the main database for the configured mode (Postgres
// in managed mode, the standalone SQLite file otherwise), builds a
// migrator over the matching dialect subdirectory of the migrations tree,
// and hands both to fn.
func withMigrator(fn func(m *migrate.Migrate, db *sql.DB, postgres bool) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, postgres, err := openMainDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var drv database.Driver
	dialect := "sqlite"
	if postgres {
		dialect = "postgres"
		drv, err = pgmigrate.WithInstance(db, &pgmigrate.Config{})
	} else {
		drv, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	}
	if err != nil {
		return fmt.Errorf("create %s migrate driver: %w", dialect, err)
	}

	src := "file://" + filepath.Join(resolveMigrationsDir(), dialect)
	m, err := migrate.NewWithDatabaseInstance(src, dialect, drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	return fn(m, db, postgres)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Main-database migration management",
	}

	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: $BOTSERVER_MIGRATIONS_DIR, else migrations/ beside the executable)")

	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateStatusCmd())
	cmd.AddCommand(migrateForceCmd())
	cmd.AddCommand(migrateDropCmd())

	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations, then run data hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate, db *sql.DB, postgres bool) error {
				if err := m.Up(); err != nil && err != migrate.ErrNoChange {
					return fmt.Errorf("migrate up: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("migration complete", "version", v, "dirty", dirty)

				count, err := upgrade.RunPendingHooks(context.Background(), db, postgres)
				if err != nil {
					slog.Warn("data hooks failed", "error", err)
				} else if count > 0 {
					slog.Info("data hooks applied", "count", count)
				}
				return nil
			})
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate, db *sql.DB, postgres bool) error {
				if steps <= 0 {
					steps = 1
				}
				if err := m.Steps(-steps); err != nil && err != migrate.ErrNoChange {
					return fmt.Errorf("migrate down: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("rollback complete", "version", v, "dirty", dirty)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current schema version and pending data hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate, db *sql.DB, postgres bool) error {
				v, dirty, err := m.Version()
				switch err {
				case nil:
					fmt.Printf("schema: v%d (required v%d), dirty: %v\n", v, upgrade.RequiredSchemaVersion, dirty)
				case migrate.ErrNilVersion:
					fmt.Printf("schema: none applied (required v%d)\n", upgrade.RequiredSchemaVersion)
				default:
					return fmt.Errorf("get version: %w", err)
				}

				pending, err := upgrade.PendingHooks(context.Background(), db, postgres)
				if err != nil {
					return fmt.Errorf("pending hooks: %w", err)
				}
				if len(pending) == 0 {
					fmt.Println("data hooks: all applied")
					return nil
				}
				fmt.Println("pending data hooks:")
				for _, name := range pending {
					fmt.Printf("  %s\n", name)
				}
				return nil
			})
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (no migration applied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *migrate.Migrate, db *sql.DB, postgres bool) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				slog.Info("forced version", "version", version)
				return nil
			})
		},
	}
}

func migrateDropCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop all tables (DANGEROUS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to drop without --yes")
			}
			return withMigrator(func(m *migrate.Migrate, db *sql.DB, postgres bool) error {
				if err := m.Drop(); err != nil {
					return fmt.Errorf("drop: %w", err)
				}
				slog.Info("all tables dropped")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm dropping every table")
	return cmd
}
