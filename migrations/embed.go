// Package migrations embeds the control-plane schema migrations so the
// gateway can bootstrap a fresh standalone database at boot without a
// migrations directory on disk. The postgres/ and sqlite/ trees carry the
// same schema in each dialect; `migrate up` (cmd/migrate.go) reads the
// on-disk copies, Boot reads these.
package migrations

import "embed"

//go:embed postgres sqlite
var FS embed.FS

// Dir returns the embedded subdirectory for the given dialect.
func Dir(postgres bool) string {
	if postgres {
		return "postgres"
	}
	return "sqlite"
}
