// Package configs embeds the bundled level catalogs so the server can run
// without a catalog directory on disk.
package configs

import "embed"

// FS holds every level_<n>.json catalog shipped with the binary
//
//go:embed *.json
var FS embed.FS
