package config

import (
	"encoding/json"
	"path/filepath"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/histsync/histsync/pkg/errors"
)

// OverridesFileName is the name of the persisted override file under the
// history root.
const OverridesFileName = "sync-config.json"

// Overrides holds the persisted replacements for the target and exclude
// lists. Either list may be empty, meaning "keep the environment-derived
// default".
type Overrides struct {
	Targets  []string `json:"targets,omitempty"`
	Excludes []string `json:"excludes,omitempty"`
}

// OverridesPath returns the location of the override file for a history root.
func OverridesPath(histDir string) string {
	return filepath.Join(histDir, OverridesFileName)
}

// loadOverrides reads the override file if it exists. An absent or malformed
// file means "no overrides"; it never fails the caller.
func loadOverrides(histDir string) Overrides {
	path := OverridesPath(histDir)
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return Overrides{}
	}

	var overrides Overrides
	if err := yaml.Unmarshal(contents, &overrides); err != nil {
		log.WithError(err).WithField("path", path).Warn(
			"Ignoring malformed override file")
		return Overrides{}
	}
	return overrides
}

// SaveOverrides persists the override file under the history root, creating
// the directory if necessary.
func SaveOverrides(histDir string, overrides Overrides) error {
	if err := fs.MkdirAll(histDir, 0755); err != nil {
		return errors.WithContext(err, "create history dir")
	}

	contents, err := json.MarshalIndent(overrides, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal overrides")
	}

	err = afero.WriteFile(fs, OverridesPath(histDir), contents, 0644)
	if err != nil {
		return errors.WithContext(err, "write overrides")
	}
	return nil
}
