package appstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/botserver/internal/botdb"
	"github.com/nextlevelbuilder/botserver/internal/errs"
)

// SQLMainDB implements botdb.MainDB over the control-plane database's
// `bots` table (migrations/{postgres,sqlite}/000001_init.up.sql). It speaks plain
// database/sql so the same code serves both the pgx/v5 (Postgres, managed
// mode) and modernc.org/sqlite (standalone mode) drivers botdb.Registry
// already imports; the only thing that differs between them is
// placeholder syntax, tracked here as `postgres`.
type SQLMainDB struct {
	db       *sql.DB
	postgres bool
}

// NewSQLMainDB wraps db. Set postgres true when db was opened against the
// pgx/v5/stdlib driver (managed mode); false for modernc.org/sqlite
// (standalone mode).
func NewSQLMainDB(db *sql.DB, postgres bool) *SQLMainDB {
	return &SQLMainDB{db: db, postgres: postgres}
}

func (m *SQLMainDB) ph(n int) string {
	if m.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SQLNow returns the server-side current-timestamp expression for the
// given dialect, for hand-built statements that set created_at/updated_at.
func SQLNow(postgres bool) string {
	if postgres {
		return "now()"
	}
	return "CURRENT_TIMESTAMP"
}

func (m *SQLMainDB) DatabaseNameFor(ctx context.Context, botID string) (databaseName, botName string, err error) {
	query := fmt.Sprintf(
		`SELECT COALESCE(database_name, ''), name FROM bots WHERE id = %s AND is_active`,
		m.ph(1),
	)
	row := m.db.QueryRowContext(ctx, query, botID)
	if err := row.Scan(&databaseName, &botName); err != nil {
		if err == sql.ErrNoRows {
			return "", "", errs.ErrNotFound
		}
		return "", "", fmt.Errorf("botdb: lookup bot %s: %w", botID, err)
	}
	return databaseName, botName, nil
}

func (m *SQLMainDB) SetDatabaseName(ctx context.Context, botID, databaseName string) error {
	query := fmt.Sprintf(
		`UPDATE bots SET database_name = %s, updated_at = %s WHERE id = %s AND database_name IS NULL`,
		m.ph(1), SQLNow(m.postgres), m.ph(2),
	)
	// Zero rows affected means the bot doesn't exist or database_name was
	// already set by a concurrent caller; either is fine.
	_, err := m.db.ExecContext(ctx, query, databaseName, botID)
	if err != nil {
		return fmt.Errorf("botdb: set database_name for bot %s: %w", botID, err)
	}
	return nil
}

func (m *SQLMainDB) ActiveBotIDs(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM bots WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("botdb: list active bots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("botdb: scan bot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ botdb.MainDB = (*SQLMainDB)(nil)
