// Package migrations embeds the goose SQL migrations for the metta schema.
// The statements stay within the subset understood by both PostgreSQL and
// SQLite.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
