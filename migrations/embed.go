// Package migrations embeds the SQL schema applied by tallyctl migrate.
package migrations

import "embed"

// FS holds the versioned up/down scripts.
//
//go:embed *.sql
var FS embed.FS
