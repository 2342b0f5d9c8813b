// Package migrations embeds the goose SQL migrations defining the
// PostgreSQL schema for filestores and their mirrored documents.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
