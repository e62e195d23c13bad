package upgrade

// Data migration hooks live here. Add a hook when a schema migration needs
// a Go-side data transformation that plain SQL can't express.

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/botserver/internal/botdb"
)

func init() {
	RegisterDataHook(1, "001_backfill_bot_database_names", backfillBotDatabaseNames)
}

// backfillBotDatabaseNames derives database_name for bot rows imported
// before provisioning ran, using the same derivation the registry applies
// at sync time. Rows that already carry a name are left untouched.
func backfillBotDatabaseNames(ctx context.Context, db *sql.DB, postgres bool) error {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name FROM bots WHERE database_name IS NULL")
	if err != nil {
		return fmt.Errorf("query unnamed bots: %w", err)
	}
	defer rows.Close()

	type pending struct{ id, dbName string }
	var updates []pending
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		updates = append(updates, pending{id: id, dbName: botdb.DeriveDatabaseName(name)})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	update := "UPDATE bots SET database_name = ? WHERE id = ? AND database_name IS NULL"
	if postgres {
		update = "UPDATE bots SET database_name = $1 WHERE id = $2 AND database_name IS NULL"
	}
	for _, u := range updates {
		if _, err := db.ExecContext(ctx, update, u.dbName, u.id); err != nil {
			return fmt.Errorf("backfill bot %s: %w", u.id, err)
		}
	}
	return nil
}
