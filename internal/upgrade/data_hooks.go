package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// DataHookFunc runs after the SQL migration for its schema version has
// been applied. postgres selects the SQL dialect: the main database is
// Postgres in managed mode and SQLite in standalone mode, and hooks issue
// their own statements.
type DataHookFunc func(ctx context.Context, db *sql.DB, postgres bool) error

type dataHook struct {
	schemaVersion uint
	name          string
	fn            DataHookFunc
}

var registry = map[string]dataHook{}

// RegisterDataHook registers a Go data migration hook for a schema
// version. Names must be unique; duplicate registration is a programmer
// error and panics at init time.
func RegisterDataHook(schemaVersion uint, name string, fn DataHookFunc) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("upgrade: duplicate data hook %q", name))
	}
	registry[name] = dataHook{schemaVersion: schemaVersion, name: name, fn: fn}
}

// orderedHooks returns all registered hooks sorted by schema version, then
// name, so execution order is deterministic regardless of init order.
func orderedHooks() []dataHook {
	hooks := make([]dataHook, 0, len(registry))
	for _, h := range registry {
		hooks = append(hooks, h)
	}
	sort.Slice(hooks, func(i, j int) bool {
		if hooks[i].schemaVersion != hooks[j].schemaVersion {
			return hooks[i].schemaVersion < hooks[j].schemaVersion
		}
		return hooks[i].name < hooks[j].name
	})
	return hooks
}

// PendingHooks returns the names of hooks that haven't been applied yet.
func PendingHooks(ctx context.Context, db *sql.DB, postgres bool) ([]string, error) {
	applied, err := loadApplied(ctx, db, postgres)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, h := range orderedHooks() {
		if !applied[h.name] {
			pending = append(pending, h.name)
		}
	}
	return pending, nil
}

// RunPendingHooks executes unapplied hooks in order, recording each in the
// data_migrations table so a re-run is a no-op. It stops at the first
// failure and returns how many hooks completed.
func RunPendingHooks(ctx context.Context, db *sql.DB, postgres bool) (int, error) {
	applied, err := loadApplied(ctx, db, postgres)
	if err != nil {
		return 0, err
	}

	record := "INSERT INTO data_migrations (name, version, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)"
	if postgres {
		record = "INSERT INTO data_migrations (name, version, applied_at) VALUES ($1, $2, now())"
	}

	count := 0
	for _, h := range orderedHooks() {
		if applied[h.name] {
			continue
		}

		start := time.Now()
		slog.Info("running data migration hook", "name", h.name, "schema_version", h.schemaVersion)

		if err := h.fn(ctx, db, postgres); err != nil {
			return count, fmt.Errorf("data hook %q: %w", h.name, err)
		}
		if _, err := db.ExecContext(ctx, record, h.name, h.schemaVersion); err != nil {
			return count, fmt.Errorf("record hook %q: %w", h.name, err)
		}

		slog.Info("data migration hook complete", "name", h.name, "duration", time.Since(start))
		count++
	}
	return count, nil
}

func loadApplied(ctx context.Context, db *sql.DB, postgres bool) (map[string]bool, error) {
	ddl := `
		CREATE TABLE IF NOT EXISTS data_migrations (
			name       TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if postgres {
		ddl = `
			CREATE TABLE IF NOT EXISTS data_migrations (
				name       VARCHAR(255) PRIMARY KEY,
				version    INT NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure data_migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM data_migrations")
	if err != nil {
		return nil, fmt.Errorf("query data_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
