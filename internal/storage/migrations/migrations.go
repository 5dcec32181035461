package migrations

import "embed"

// FS holds the schema, applied in file name order.
//
//go:embed *.up.sql
var FS embed.FS
