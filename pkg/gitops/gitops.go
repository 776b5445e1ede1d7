// Package gitops wraps the version-control primitives the sync daemon
// depends on. The orchestrator only sees the Facade interface, so tests can
// substitute a fake without a git binary or a network.
package gitops

import (
	"github.com/histsync/histsync/pkg/config"
)

// Facade is the capability surface the orchestrator drives. All paths are
// history repository roots.
type Facade interface {
	// EnsureRepo makes sure path contains a repository checked out on branch,
	// initializing one if necessary.
	EnsureRepo(path, branch string) error

	// SetRemote points the repository's origin at url.
	SetRemote(path, url string) error

	// RemoteIsEmpty reports whether origin has no refs at all.
	RemoteIsEmpty(path string) (bool, error)

	// InitialCommitIfNeeded creates a first commit when the repository has no
	// history yet.
	InitialCommitIfNeeded(path string) error

	// FetchAndCheckout fetches branch from origin and hard-resets the local
	// branch to the remote tip. Local-only commits are discarded; that's the
	// documented alignment policy, not an accident.
	FetchAndCheckout(path, branch string) error

	// Push sends branch to origin.
	Push(path, branch string) error

	// AddAllAndCommitIfNeeded stages every working tree change and commits it
	// with the given message. It reports whether a commit was created.
	AddAllAndCommitIfNeeded(path, message string) (bool, error)

	// PullRebase replays local commits on top of the remote branch tip.
	PullRebase(path, branch string) error

	// RunRaw executes an arbitrary command in cwd and returns its stdout and
	// exit status. The returned error covers failures to run the command, not
	// non-zero exits.
	RunRaw(argv []string, cwd string) (stdout string, exitStatus int, err error)

	// InstallExcludeRules installs the exclude rules as repository-local
	// ignore rules.
	InstallExcludeRules(path string, rules []config.ExcludeRule) error

	// LocalHead returns the commit hash of the local branch tip, or "" when
	// the repository has no commits.
	LocalHead(path string) (string, error)

	// RemoteHead returns the commit hash of the remote-tracking branch tip,
	// or "" when it's unknown.
	RemoteHead(path, branch string) (string, error)

	// IsDirty reports whether the working tree has uncommitted changes.
	IsDirty(path string) (bool, error)
}
