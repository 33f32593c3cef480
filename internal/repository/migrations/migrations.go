// Package migrations embeds the versioned schema of the credential store
package migrations

import "embed"

// FS holds the golang-migrate SQL files
//
//go:embed *.sql
var FS embed.FS
