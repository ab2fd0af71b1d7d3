// Package migrations embeds the index database schema: the artifact cache
// and the lifecycle event journal.
package migrations

import (
	"embed"

	"github.com/nerrad567/embedded-vault/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// Source returns the embedded migrations for database.DB.Migrate.
func Source() database.Source {
	return database.Source{FS: migrationsFS, Dir: "."}
}
