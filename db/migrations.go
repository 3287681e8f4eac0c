// Package db embeds the SQL migrations so binaries do not depend on the
// repository layout at run time.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
