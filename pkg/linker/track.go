package linker

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/histsync/histsync/pkg/config"
	"github.com/histsync/histsync/pkg/errors"
)

// PlaceholderName is the zero-byte marker written into empty directories so
// that version control tracks them.
const PlaceholderName = ".gitkeep"

// PrecreateDirTargets makes sure the mirrored path of every directory-typed
// target exists, and the parent of every file-typed one.
func PrecreateDirTargets(histDir string, targets []config.Target) error {
	for _, target := range targets {
		hist := config.HistoryPath(histDir, target.Clean())
		if !target.IsDir() {
			hist = filepath.Dir(hist)
		}
		if err := os.MkdirAll(hist, 0755); err != nil {
			return errors.WithContext(err, "precreate "+hist)
		}
	}
	return nil
}

// TrackEmptyDirs walks every target's mirrored subtree and writes a
// placeholder file into each empty directory, skipping excluded paths and
// the version-control metadata directory. It returns the number of
// placeholders newly written; re-running it on an unchanged tree writes
// none.
func TrackEmptyDirs(histDir string, targets []config.Target, excludes []config.ExcludeRule) (int, error) {
	written := 0
	for _, target := range targets {
		root := config.HistoryPath(histDir, target.Clean())
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			// File-typed targets and not-yet-materialized mirrors have
			// nothing to scan.
			continue
		}

		err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				return nil
			}
			if fi.Name() == ".git" {
				return filepath.SkipDir
			}

			rel, err := filepath.Rel(histDir, path)
			if err != nil {
				return errors.WithContext(err, "relativize path")
			}
			if excluded(rel, excludes) {
				return filepath.SkipDir
			}

			entries, err := ioutil.ReadDir(path)
			if err != nil {
				return errors.WithContext(err, "list dir")
			}
			if len(entries) > 0 {
				return nil
			}

			placeholder := filepath.Join(path, PlaceholderName)
			f, err := os.OpenFile(placeholder, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
			if os.IsExist(err) {
				return nil
			}
			if err != nil {
				return errors.WithContext(err, "write placeholder")
			}
			if err := f.Close(); err != nil {
				return errors.WithContext(err, "close placeholder")
			}
			written++
			return nil
		})
		if err != nil {
			return written, errors.WithContext(err, "scan "+string(target))
		}
	}
	return written, nil
}

func excluded(rel string, excludes []config.ExcludeRule) bool {
	for _, rule := range excludes {
		if rule.Matches(filepath.ToSlash(rel)) {
			return true
		}
	}
	return false
}
