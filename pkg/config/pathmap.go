package config

import (
	"path/filepath"
	"strings"
)

// LiveAbsolute maps a base-relative target path to its absolute location in
// the live tree. Absolute paths are honored as-is so that explicit overrides
// take precedence over the base root. The function is pure: it never touches
// the filesystem, and callers are responsible for existence checks.
func LiveAbsolute(base, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	return filepath.Join(base, rel)
}

// HistoryPath maps a base-relative target path to its mirror under the
// history root. The namespace under the history root mirrors the
// base-relative namespace exactly, so one history root serves exactly one
// base tree.
func HistoryPath(histDir, rel string) string {
	return filepath.Join(histDir, strings.TrimLeft(rel, "/"))
}
