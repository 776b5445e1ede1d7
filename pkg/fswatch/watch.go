// Package fswatch coalesces filesystem change notifications into a simple
// trigger channel, so the sync loop can commit local writes ahead of its
// periodic interval.
package fswatch

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/histsync/histsync/pkg/errors"
)

var fs = afero.NewOsFs()

// Watch watches every given root recursively. It sends an event on the
// returned channel whenever anything beneath the roots changes. Roots that
// don't exist yet are skipped; they get picked up when the watcher is
// rebuilt on the next daemon start.
func Watch(roots []string) (chan struct{}, error) {
	paths, err := pathsToWatch(roots)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handles for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}
			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}
	return combineUpdates(watcher.Events), nil
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

func pathsToWatch(roots []string) (paths []string, err error) {
	for _, root := range roots {
		fi, err := fs.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.WithContext(err, "stat")
		}
		if !fi.IsDir() {
			paths = append(paths, root)
			continue
		}

		// fsnotify doesn't watch directories recursively, so walk the tree
		// and add every subdirectory.
		err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return errors.WithContext(err, "walk error")
			}
			if fi.IsDir() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}
