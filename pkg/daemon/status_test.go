package daemon

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/histsync/histsync/pkg/config"
)

func TestStatusSnapshot(t *testing.T) {
	repo := &fakeRepo{localHead: "abc123", remoteHead: "def456"}
	d, _ := newTestDaemon(t, repo)
	d.setState(StateSyncLoop)

	settings := d.Settings()
	require.NoError(t, os.MkdirAll(filepath.Join(settings.HistDir, ".git"), 0755))

	status := d.Status()
	assert.Equal(t, settings.Base, status.Base)
	assert.Equal(t, "main", status.Branch)
	assert.Equal(t, "acme/hist", status.Repo)
	assert.Equal(t, []string{"data/"}, status.Targets)
	assert.Equal(t, "SYNC_LOOP", status.State)
	assert.True(t, status.GitInitialized)
	assert.Equal(t, "abc123", status.Head)
	assert.Equal(t, "def456", status.RemoteHead)

	// Empty lists serialize as [] rather than null.
	assert.NotNil(t, status.Excludes)
}

func TestSetTargetsPersistsOverrides(t *testing.T) {
	repo := &fakeRepo{}
	d, _ := newTestDaemon(t, repo)
	settings := d.Settings()

	require.NoError(t, d.SetTargets([]string{"logs/", "etc/app.conf"}))

	assert.Equal(t,
		[]config.Target{"logs/", "etc/app.conf"},
		d.Settings().Targets)

	contents, err := ioutil.ReadFile(config.OverridesPath(settings.HistDir))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "logs/")
}

func TestSetExcludesReinstallsIgnoreRules(t *testing.T) {
	repo := &fakeRepo{}
	d, _ := newTestDaemon(t, repo)

	require.NoError(t, d.SetExcludes([]string{"data/cache"}))

	assert.Equal(t,
		[]config.ExcludeRule{"data/cache"},
		d.Settings().Excludes)
	assert.Equal(t, 1, repo.count("InstallExcludeRules"))
}
