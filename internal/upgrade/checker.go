package upgrade

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// SchemaStatus is the result of a schema compatibility probe.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	NeedsMigration  bool
}

// Compatible reports whether the gateway can run against this schema.
func (s *SchemaStatus) Compatible() bool {
	return !s.Dirty && s.CurrentVersion == s.RequiredVersion
}

// CheckSchema probes the schema_migrations table and compares the applied
// version against RequiredSchemaVersion. A fresh database (no table, no
// rows) reports NeedsMigration rather than an error.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}

	var version uint
	var dirty bool
	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		// Missing table or empty table: fresh database.
		s.NeedsMigration = true
		return s, nil
	}

	s.CurrentVersion = version
	s.Dirty = dirty
	s.NeedsMigration = !dirty && version < RequiredSchemaVersion
	return s, nil
}

// Verify gates startup on schema compatibility: it returns nil when the
// applied version matches RequiredSchemaVersion, and a sentinel-wrapped
// error with remediation steps otherwise.
func Verify(db *sql.DB) error {
	s, err := CheckSchema(db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	switch {
	case s.Dirty:
		return fmt.Errorf("%w: version %d; a migration failed partway.\n"+
			"  Fix:  ./botserver migrate force %d\n"+
			"  Then: ./botserver migrate up",
			ErrSchemaDirty, s.CurrentVersion, s.CurrentVersion-1)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Errorf("%w: schema v%d, binary requires v%d; upgrade the botserver binary",
			ErrSchemaAhead, s.CurrentVersion, s.RequiredVersion)
	case s.NeedsMigration:
		return fmt.Errorf("%w: current v%d, required v%d.\n"+
			"  Run: ./botserver migrate up",
			ErrSchemaOutdated, s.CurrentVersion, s.RequiredVersion)
	}
	return nil
}
