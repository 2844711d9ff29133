package migrations

import "embed"

// FS embeds the goose migrations for PostgreSQL.
//
//go:embed *.sql
var FS embed.FS
