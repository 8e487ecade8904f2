package migrations

import "embed"

// FS contains the embedded schema migrations. They are written to run on
// both SQLite and PostgreSQL.
//
//go:embed *.sql
var FS embed.FS
