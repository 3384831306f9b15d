// Package migrations embeds the SQL schema files so the service can migrate
// its database without shipping them alongside the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/retail-auth-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
