package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

// extraTypes covers extensions common in static site output that the
// platform mime table may miss.
var extraTypes = map[string]string{
	".ico":   "image/x-icon",
	".map":   "application/json",
	".txt":   "text/plain; charset=utf-8",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
}

// ContentTypeFor derives a content type from a file name's extension,
// falling back to application/octet-stream.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
