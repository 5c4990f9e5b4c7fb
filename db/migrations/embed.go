// Package dbmigrations exposes embedded SQL migrations for stocktake binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into stocktake binaries.
//
//go:embed *.sql
var Files embed.FS
