// Package migrations carries the SQL schema applied by `opsync migrate`.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
