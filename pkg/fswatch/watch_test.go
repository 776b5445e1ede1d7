package fswatch

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsToWatch(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	require.NoError(t, fs.MkdirAll("/hist/data/sub", 0755))
	require.NoError(t, afero.WriteFile(fs, "/hist/app.conf", []byte("x"), 0644))

	paths, err := pathsToWatch([]string{
		"/hist/data",
		"/hist/app.conf",
		"/hist/missing",
	})
	require.NoError(t, err)

	// Directories are expanded recursively, file roots are watched directly,
	// and roots that don't exist yet are skipped.
	assert.Equal(t, []string{
		"/hist/data",
		filepath.Join("/hist/data", "sub"),
		"/hist/app.conf",
	}, paths)
}

func TestWatchDeliversEvents(t *testing.T) {
	dir := t.TempDir()

	updates, err := Watch([]string{dir})
	require.NoError(t, err)

	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0644))

	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change notification")
	}
}

func TestWatchSkipsMissingRoots(t *testing.T) {
	dir := t.TempDir()

	_, err := Watch([]string{filepath.Join(dir, "missing"), dir})
	assert.NoError(t, err)
}
