package migrations

import "embed"

// FS contains embedded SQLite migrations for the chat archive.
//
//go:embed *.sql
var FS embed.FS
