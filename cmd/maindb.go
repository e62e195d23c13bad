package cmd

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/botserver/internal/config"
)

// openMainDB opens the control-plane pool for one-shot CLI commands
// (migrate, sync-bot-databases, quota, onboard) without starting any of
// AppState's background subsystems — the same driver/DSN selection Boot
// uses in internal/appstate/appstate.go, duplicated here because these
// commands need only the pool, not the rest of the process.
func openMainDB(cfg *config.Config) (db *sql.DB, postgres bool, err error) {
	if cfg.Database.Mode == "managed" && cfg.Database.PostgresDSN == "" {
		return nil, false, fmt.Errorf("managed mode requires the BOTSERVER_POSTGRES_DSN environment variable")
	}
	postgres = cfg.IsManagedMode()
	driver := "sqlite"
	dsn := cfg.Database.PostgresDSN
	if postgres {
		driver = "pgx"
	} else if dsn == "" {
		dsn = "file:botserver_main.sqlite?cache=shared"
	}
	db, err = sql.Open(driver, dsn)
	if err != nil {
		return nil, false, fmt.Errorf("open main db: %w", err)
	}
	return db, postgres, nil
}
