package migrations

import "embed"

// FS contains embedded SQLite migrations for session-history storage.
//
//go:embed *.sql
var FS embed.FS
