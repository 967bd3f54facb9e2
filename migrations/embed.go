// Package migrations carries the schema files so binaries can migrate
// without a checkout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
