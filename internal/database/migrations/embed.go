package migrations

import "embed"

// FS holds the PostgreSQL schema migrations for the chat store.
//
//go:embed *.sql
var FS embed.FS
