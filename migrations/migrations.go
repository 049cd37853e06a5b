// Package migrations embeds the PostgreSQL schema migrations of the results database.
package migrations

import "embed"

// FS holds the numbered up and down migration files.
//
//go:embed *.sql
var FS embed.FS
