// Package dbmigrations exposes embedded SQL migrations for triarb binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into triarb binaries.
//
//go:embed *.sql
var Files embed.FS
