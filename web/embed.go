// Package web embeds the dashboard page served under /dashboard.
package web

import (
	"embed"
	"io/fs"
)

//go:embed all:dist
var distFS embed.FS

// Assets returns the embedded dashboard filesystem rooted at dist/, so
// files are opened as "index.html" rather than "dist/index.html".
func Assets() (fs.FS, error) {
	return fs.Sub(distFS, "dist")
}
