package migrations

import "embed"

// FS holds the migrations of every component, one directory per migrations table.
//
//go:embed */*.sql
var FS embed.FS
