// Package migrations embeds the SQL schema so binaries can migrate without the
// source tree.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
