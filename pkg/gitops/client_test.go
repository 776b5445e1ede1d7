package gitops

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/histsync/histsync/pkg/config"
)

func TestEnsureRepoInitializesOnBranch(t *testing.T) {
	c := NewClient("")
	path := t.TempDir()

	require.NoError(t, c.EnsureRepo(path, "main"))

	repo, err := git.PlainOpen(path)
	require.NoError(t, err)

	// The unborn HEAD already points at the configured branch, so the first
	// commit lands there.
	head, err := repo.Reference(plumbing.HEAD, false)
	require.NoError(t, err)
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), head.Target())

	// A second run on the existing repository is a no-op.
	require.NoError(t, c.EnsureRepo(path, "main"))
}

func TestInitialCommitIfNeeded(t *testing.T) {
	c := NewClient("")
	path := t.TempDir()
	require.NoError(t, c.EnsureRepo(path, "main"))
	writeRepoFile(t, path, "data/file", "contents")

	require.NoError(t, c.InitialCommitIfNeeded(path))

	head, err := c.LocalHead(path)
	require.NoError(t, err)
	assert.NotEmpty(t, head)

	// With a tip in place the operation becomes a no-op.
	require.NoError(t, c.InitialCommitIfNeeded(path))
	after, err := c.LocalHead(path)
	require.NoError(t, err)
	assert.Equal(t, head, after)
}

func TestAddAllAndCommitIfNeeded(t *testing.T) {
	c := NewClient("")
	path := t.TempDir()
	require.NoError(t, c.EnsureRepo(path, "main"))
	writeRepoFile(t, path, "tracked", "v1")
	require.NoError(t, c.InitialCommitIfNeeded(path))

	// Clean tree, nothing to commit.
	changed, err := c.AddAllAndCommitIfNeeded(path, "noop")
	require.NoError(t, err)
	assert.False(t, changed)

	// New and modified files get committed.
	writeRepoFile(t, path, "tracked", "v2")
	writeRepoFile(t, path, "untracked", "new")
	changed, err = c.AddAllAndCommitIfNeeded(path, "update")
	require.NoError(t, err)
	assert.True(t, changed)

	dirty, err := c.IsDirty(path)
	require.NoError(t, err)
	assert.False(t, dirty)

	// Deletions of tracked files are captured too.
	require.NoError(t, os.Remove(filepath.Join(path, "untracked")))
	changed, err = c.AddAllAndCommitIfNeeded(path, "delete")
	require.NoError(t, err)
	assert.True(t, changed)

	dirty, err = c.IsDirty(path)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestIsDirty(t *testing.T) {
	c := NewClient("")
	path := t.TempDir()
	require.NoError(t, c.EnsureRepo(path, "main"))
	writeRepoFile(t, path, "file", "v1")
	require.NoError(t, c.InitialCommitIfNeeded(path))

	dirty, err := c.IsDirty(path)
	require.NoError(t, err)
	assert.False(t, dirty)

	writeRepoFile(t, path, "file", "v2")
	dirty, err = c.IsDirty(path)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestInstallExcludeRules(t *testing.T) {
	c := NewClient("")
	path := t.TempDir()
	require.NoError(t, c.EnsureRepo(path, "main"))
	writeRepoFile(t, path, "keep", "x")
	require.NoError(t, c.InitialCommitIfNeeded(path))

	require.NoError(t, c.InstallExcludeRules(path, []config.ExcludeRule{"data/cache"}))

	contents, err := ioutil.ReadFile(filepath.Join(path, ".git", "info", "exclude"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "/data/cache")

	// Excluded paths neither dirty the tree nor get committed.
	writeRepoFile(t, path, "data/cache/blob", "x")
	dirty, err := c.IsDirty(path)
	require.NoError(t, err)
	assert.False(t, dirty)

	changed, err := c.AddAllAndCommitIfNeeded(path, "should be a noop")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestHeadsOfFreshRepo(t *testing.T) {
	c := NewClient("")
	path := t.TempDir()
	require.NoError(t, c.EnsureRepo(path, "main"))

	local, err := c.LocalHead(path)
	require.NoError(t, err)
	assert.Empty(t, local)

	remote, err := c.RemoteHead(path, "main")
	require.NoError(t, err)
	assert.Empty(t, remote)
}

func TestSetRemoteReplacesURL(t *testing.T) {
	c := NewClient("")
	path := t.TempDir()
	require.NoError(t, c.EnsureRepo(path, "main"))

	require.NoError(t, c.SetRemote(path, "https://example.com/one.git"))
	require.NoError(t, c.SetRemote(path, "https://example.com/two.git"))

	repo, err := git.PlainOpen(path)
	require.NoError(t, err)
	remote, err := repo.Remote("origin")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/two.git"}, remote.Config().URLs)

	// Setting the same URL again leaves the remote alone.
	require.NoError(t, c.SetRemote(path, "https://example.com/two.git"))
}

func TestFetchAndCheckoutFromLocalRemote(t *testing.T) {
	c := NewClient("")

	// Seed a "remote" repository with a commit.
	remotePath := t.TempDir()
	require.NoError(t, c.EnsureRepo(remotePath, "main"))
	writeRepoFile(t, remotePath, "data/file", "remote contents")
	require.NoError(t, c.InitialCommitIfNeeded(remotePath))
	remoteTip, err := c.LocalHead(remotePath)
	require.NoError(t, err)

	local := t.TempDir()
	require.NoError(t, c.EnsureRepo(local, "main"))
	require.NoError(t, c.SetRemote(local, remotePath))

	empty, err := c.RemoteIsEmpty(local)
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, c.FetchAndCheckout(local, "main"))

	localTip, err := c.LocalHead(local)
	require.NoError(t, err)
	assert.Equal(t, remoteTip, localTip)

	trackingTip, err := c.RemoteHead(local, "main")
	require.NoError(t, err)
	assert.Equal(t, remoteTip, trackingTip)

	contents, err := ioutil.ReadFile(filepath.Join(local, "data/file"))
	require.NoError(t, err)
	assert.Equal(t, "remote contents", string(contents))
}

func TestRunRaw(t *testing.T) {
	c := NewClient("")
	dir := t.TempDir()

	stdout, status, err := c.RunRaw([]string{"echo", "hello"}, dir)
	require.NoError(t, err)
	assert.Zero(t, status)
	assert.Equal(t, "hello\n", stdout)

	_, status, err = c.RunRaw([]string{"false"}, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, status)

	_, _, err = c.RunRaw([]string{"histsync-no-such-binary"}, dir)
	assert.Error(t, err)

	_, _, err = c.RunRaw(nil, dir)
	assert.Error(t, err)
}

func writeRepoFile(t *testing.T, repoPath, rel, contents string) {
	t.Helper()
	path := filepath.Join(repoPath, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
}
