// Package web embeds the static terminal client.
package web

import "embed"

//go:embed static
var FS embed.FS
