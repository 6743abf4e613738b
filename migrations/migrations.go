// Package migrations embeds the SQL schema applied by db.Migrate. Each
// directory is one migration, applied in lexical order.
package migrations

import "embed"

//go:embed */*.sql
var FS embed.FS
