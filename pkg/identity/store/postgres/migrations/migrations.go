// Package migrations embeds the SQL schema migrations of the postgres
// identity store.
package migrations

import "embed"

// FS holds the migration files, named <version>_<title>.(up|down).sql.
//
//go:embed *.sql
var FS embed.FS
