// Package migrations embeds the SQL schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
