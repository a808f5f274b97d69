// Package security normalizes untrusted names before they are stored.
package security

import (
	"path"
	"strings"
	"unicode/utf8"
)

const maxNameBytes = 255

// DeliverableName reduces an uploaded file name to a bare, printable base
// name. Directory parts from either path convention are dropped.
func DeliverableName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))

	name = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if len(name) > maxNameBytes {
		cut := maxNameBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}

	if name == "" || name == "." || name == ".." || name == "/" {
		return "file"
	}
	return name
}
