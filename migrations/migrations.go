// Package migrations embeds the SQL schema so the binary can apply it without extra files.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
