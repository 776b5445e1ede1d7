// Package linker moves configured live paths into the history tree and
// replaces them with symbolic links, so that all future writes land inside
// the version-controlled mirror.
package linker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/histsync/histsync/pkg/config"
	"github.com/histsync/histsync/pkg/errors"
)

// MigrateAndLink reconciles every target in order: after a successful run
// each live path is either a symlink into the history tree, or (under the
// permission fallback) a directory whose top-level entries are individually
// linked into the mirrored directory. Data that exists on only one side is
// never discarded; on conflicts the history side wins.
//
// Filesystem errors other than the documented permission fallback abort the
// pass, since continuing risks losing data.
func MigrateAndLink(base, histDir string, targets []config.Target) error {
	for _, target := range targets {
		if err := migrateTarget(base, histDir, target); err != nil {
			return errors.WithContext(err, fmt.Sprintf("migrate %q", string(target)))
		}
	}
	return nil
}

func migrateTarget(base, histDir string, target config.Target) error {
	rel := target.Clean()
	live := config.LiveAbsolute(base, rel)
	hist := config.HistoryPath(histDir, rel)
	log.WithFields(log.Fields{"live": live, "hist": hist}).Debug("Reconciling target")

	if err := os.MkdirAll(filepath.Dir(hist), 0755); err != nil {
		return errors.WithContext(err, "create history parent")
	}

	fi, err := os.Lstat(live)
	switch {
	case err == nil && fi.Mode()&os.ModeSymlink != 0:
		// Already linked. EnsureSymlink repoints it if the expected history
		// path changed since the link was created.
		return EnsureSymlink(live, hist)
	case err == nil && fi.IsDir():
		return migrateDir(live, hist)
	case err == nil && fi.Mode().IsRegular():
		return migrateFile(live, hist)
	case err != nil && !os.IsNotExist(err):
		return errors.WithContext(err, "stat live path")
	default:
		return materialize(live, hist, target.IsDir())
	}
}

// EnsureSymlink makes livePath a symbolic link pointing at histPath. A link
// that already points at histPath is left untouched. A link with a different
// destination is replaced, and so is any regular file or directory at
// livePath.
func EnsureSymlink(livePath, histPath string) error {
	if parent := filepath.Dir(livePath); parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return errors.WithContext(err, "create live parent")
		}
	}

	fi, err := os.Lstat(livePath)
	switch {
	case err == nil && fi.Mode()&os.ModeSymlink != 0:
		current, err := os.Readlink(livePath)
		if err != nil {
			return errors.WithContext(err, "read existing link")
		}
		if current == histPath {
			return nil
		}
		log.WithFields(log.Fields{
			"path": livePath, "old": current, "new": histPath,
		}).Info("Repointing symlink")
		if err := os.Remove(livePath); err != nil {
			return errors.WithContext(err, "remove stale link")
		}
	case err == nil && fi.IsDir():
		if err := os.RemoveAll(livePath); err != nil {
			return errors.WithContext(err, "remove live directory")
		}
	case err == nil:
		if err := os.Remove(livePath); err != nil {
			return errors.WithContext(err, "remove live file")
		}
	case !os.IsNotExist(err):
		return errors.WithContext(err, "stat live path")
	}

	if err := os.Symlink(histPath, livePath); err != nil {
		return errors.WithContext(err, "create link")
	}
	return nil
}

// migrateDir merges a live directory into its mirror and replaces it with a
// symlink. When the filesystem forbids replacing the directory itself (the
// directory is a mount point, or its parent isn't writable), it degrades to
// linking each top-level history entry into the still-real live directory.
func migrateDir(live, hist string) error {
	if err := os.MkdirAll(hist, 0755); err != nil {
		return errors.WithContext(err, "create history dir")
	}
	if err := mergeCopyDir(live, hist); err != nil {
		return errors.WithContext(err, "merge into history")
	}

	if err := os.RemoveAll(live); err != nil {
		log.WithError(err).WithField("path", live).Debug(
			"Could not remove live directory before linking")
	}

	err := EnsureSymlink(live, hist)
	if err == nil {
		return nil
	}
	if os.IsPermission(errors.RootCause(err)) || !writable(filepath.Dir(live)) {
		log.WithError(err).WithField("path", live).Info(
			"Cannot replace directory with a symlink, linking its children instead")
		return linkChildrenInPlace(live, hist)
	}
	return err
}

// migrateFile moves a live file into the mirror, unless the mirror already
// has content for the path, in which case the live copy is dropped so the
// two can't diverge.
func migrateFile(live, hist string) error {
	_, err := os.Stat(hist)
	switch {
	case os.IsNotExist(err):
		if err := moveFile(live, hist); err != nil {
			return errors.WithContext(err, "move live file")
		}
	case err != nil:
		return errors.WithContext(err, "stat history path")
	default:
		if err := os.Remove(live); err != nil {
			return errors.WithContext(err, "drop superseded live file")
		}
	}
	return EnsureSymlink(live, hist)
}

// materialize handles targets with no live counterpart: the mirror gets an
// empty directory or zero-byte file so version control has something to
// track, and the live path becomes a link to it.
func materialize(live, hist string, isDir bool) error {
	if isDir {
		if err := os.MkdirAll(hist, 0755); err != nil {
			return errors.WithContext(err, "create history dir")
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(hist), 0755); err != nil {
			return errors.WithContext(err, "create history parent")
		}
		f, err := os.OpenFile(hist, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.WithContext(err, "create history file")
		}
		if err := f.Close(); err != nil {
			return errors.WithContext(err, "close history file")
		}
	}
	return EnsureSymlink(live, hist)
}

// mergeCopyDir copies the contents of src into dst without ever overwriting
// an existing destination entry. Previously synced history therefore wins
// over fresh live state on conflicting paths.
func mergeCopyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return errors.WithContext(err, "relativize path")
		}
		target := dst
		if rel != "." {
			target = filepath.Join(dst, rel)
		}

		switch {
		case fi.IsDir():
			return os.MkdirAll(target, 0755)
		case fi.Mode()&os.ModeSymlink != 0:
			if _, err := os.Lstat(target); err == nil {
				return nil
			}
			dest, err := os.Readlink(path)
			if err != nil {
				return errors.WithContext(err, "read link")
			}
			return os.Symlink(dest, target)
		case fi.Mode().IsRegular():
			if _, err := os.Lstat(target); err == nil {
				return nil
			}
			return copyFile(path, target, fi.Mode())
		default:
			// Sockets, devices and the like have no business in the history
			// tree.
			log.WithField("path", path).Debug("Skipping special file during merge")
			return nil
		}
	})
}

// linkChildrenInPlace is the fallback for directories that can't themselves
// become a symlink: the live directory is emptied and each top-level history
// entry is linked into it by name.
func linkChildrenInPlace(live, hist string) error {
	if err := os.MkdirAll(hist, 0755); err != nil {
		return errors.WithContext(err, "create history dir")
	}

	if fi, err := os.Lstat(live); err == nil && fi.IsDir() {
		entries, err := readDirNames(live)
		if err != nil {
			return errors.WithContext(err, "list live dir")
		}
		for _, name := range entries {
			removeEntry(filepath.Join(live, name))
		}
	} else if err := os.MkdirAll(live, 0755); err != nil {
		return errors.WithContext(err, "recreate live dir")
	}

	entries, err := readDirNames(hist)
	if err != nil {
		return errors.WithContext(err, "list history dir")
	}
	for _, name := range entries {
		liveEntry := filepath.Join(live, name)
		histEntry := filepath.Join(hist, name)
		removeEntry(liveEntry)
		if err := os.Symlink(histEntry, liveEntry); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"live": liveEntry, "hist": histEntry,
			}).Error("Failed to link history entry into live directory")
		}
	}
	return nil
}

// removeEntry deletes a single directory entry, whatever it is. Failures are
// tolerated: the fallback is already operating under restricted permissions,
// and a leftover entry gets replaced on the next relink.
func removeEntry(path string) {
	fi, err := os.Lstat(path)
	if err != nil {
		return
	}
	if fi.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			log.WithError(err).WithField("path", path).Debug("Failed to remove directory")
		}
		return
	}
	if err := os.Remove(path); err != nil {
		log.WithError(err).WithField("path", path).Debug("Failed to remove entry")
	}
}

func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errors.WithContext(err, "create destination")
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithContext(err, "copy contents")
	}
	return out.Close()
}

// moveFile renames src to dst, falling back to copy-and-delete when the two
// paths live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	fi, err := os.Stat(src)
	if err != nil {
		return errors.WithContext(err, "stat source")
	}
	if err := copyFile(src, dst, fi.Mode()); err != nil {
		return err
	}
	return os.Remove(src)
}

// writable reports whether the current process may create entries in dir.
func writable(dir string) bool {
	if dir == "" {
		dir = "/"
	}
	return unix.Access(dir, unix.W_OK) == nil
}
