// Package daemon drives the sync lifecycle: prepare the remote, align the
// local history with the remote tip, migrate the configured targets into the
// history tree, and then keep the two sides synchronized forever.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/histsync/histsync/pkg/config"
	"github.com/histsync/histsync/pkg/errors"
	"github.com/histsync/histsync/pkg/gitops"
	"github.com/histsync/histsync/pkg/linker"
)

// alignRetryInterval is the backoff between alignment attempts. The phase
// never times out on its own; only cancellation stops it.
const alignRetryInterval = 3 * time.Second

// State identifies where the orchestrator currently is in its lifecycle.
type State string

const (
	StatePreparingRemote State = "PREPARING_REMOTE"
	StateAligning        State = "ALIGNING"
	StateLinking         State = "LINKING"
	StateSyncLoop        State = "SYNC_LOOP"
	StateStopped         State = "STOPPED"
)

// Daemon owns the sync state machine. One background goroutine runs Run; the
// admin surface calls the on-demand methods from its own goroutines. All of
// them serialize on the same mutex before touching the history repository,
// so on-demand operations are safe to invoke while the loop is running.
type Daemon struct {
	repo  gitops.Facade
	clock clockwork.Clock

	// gitMutex guards every operation that reads or mutates the history
	// repository's working tree or refs. Filesystem migration of live paths
	// outside the history tree doesn't need it.
	gitMutex sync.Mutex

	// stateMutex guards settings, state and lastSync.
	stateMutex sync.Mutex
	settings   config.Settings
	state      State
	lastSync   time.Time

	// trigger wakes the sleeping sync loop for an immediate cycle.
	trigger chan struct{}
}

// New returns a Daemon ready to Run.
func New(settings config.Settings, repo gitops.Facade) *Daemon {
	return &Daemon{
		repo:     repo,
		clock:    clockwork.NewRealClock(),
		settings: settings,
		state:    StateStopped,
		trigger:  make(chan struct{}, 1),
	}
}

// Run executes the state machine until ctx is cancelled. Missing remote
// configuration is returned as a fatal error; transient version-control
// failures are retried forever instead.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.setState(StateStopped)
	log.Info("Starting sync daemon")

	d.setState(StatePreparingRemote)
	if err := d.prepareRemote(); err != nil {
		return err
	}

	d.setState(StateAligning)
	if err := d.align(ctx); err != nil {
		return err
	}

	d.setState(StateLinking)
	if err := d.linkAndTrack("chore(sync): initial link & empty dirs"); err != nil {
		// Not fatal: the mirror may be partially populated, and both the
		// periodic cycle and an on-demand relink retry the migration.
		log.WithError(err).Error("Initial linking failed")
	}

	d.setState(StateSyncLoop)
	for {
		if err := d.SyncOnce(); err != nil {
			log.WithError(err).Error("Sync cycle failed")
		}

		select {
		case <-ctx.Done():
			log.Info("Sync daemon stopped")
			return nil
		case <-d.clock.After(d.interval()):
		case <-d.trigger:
			log.Debug("Sync cycle triggered early")
		}
	}
}

// prepareRemote validates the remote configuration and points the history
// repository at it.
func (d *Daemon) prepareRemote() error {
	settings := d.Settings()
	if err := settings.ValidateRemote(); err != nil {
		return err
	}

	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()
	if err := d.repo.EnsureRepo(settings.HistDir, settings.Branch); err != nil {
		return errors.WithContext(err, "ensure repo")
	}
	if err := d.repo.InstallExcludeRules(settings.HistDir, settings.Excludes); err != nil {
		return errors.WithContext(err, "install exclude rules")
	}
	if err := d.repo.SetRemote(settings.HistDir, settings.RemoteURL()); err != nil {
		return errors.WithContext(err, "set remote")
	}
	return nil
}

// align blocks until the local branch tip provably equals the remote tip.
// This is the gate that keeps linking from running against a half-pulled
// history, so it retries indefinitely and only cancellation stops it.
func (d *Daemon) align(ctx context.Context) error {
	for {
		aligned, err := d.alignOnce()
		switch {
		case err != nil:
			log.WithError(err).Error("Alignment attempt failed, retrying")
		case aligned:
			log.Info("Local branch aligned with remote tip")
			return nil
		default:
			log.Debug("Local head does not match remote tip yet, retrying")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clock.After(alignRetryInterval):
		}
	}
}

func (d *Daemon) alignOnce() (bool, error) {
	settings := d.Settings()
	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()

	empty, err := d.repo.RemoteIsEmpty(settings.HistDir)
	if err != nil {
		return false, errors.WithContext(err, "check remote")
	}
	if empty {
		log.Info("Remote is empty, creating initial commit")
		if err := d.repo.InitialCommitIfNeeded(settings.HistDir); err != nil {
			return false, errors.WithContext(err, "initial commit")
		}
		if err := d.repo.Push(settings.HistDir, settings.Branch); err != nil {
			return false, errors.WithContext(err, "push initial commit")
		}
	} else if err := d.repo.FetchAndCheckout(settings.HistDir, settings.Branch); err != nil {
		return false, errors.WithContext(err, "fetch and checkout")
	}

	return d.headsAligned(settings)
}

// headsAligned reports whether the local branch tip equals the
// remote-tracking tip. Equality of the two hashes is the whole definition of
// alignment; ancestry is deliberately not analyzed.
func (d *Daemon) headsAligned(settings config.Settings) (bool, error) {
	local, err := d.repo.LocalHead(settings.HistDir)
	if err != nil {
		return false, errors.WithContext(err, "local head")
	}
	remote, err := d.repo.RemoteHead(settings.HistDir, settings.Branch)
	if err != nil {
		return false, errors.WithContext(err, "remote head")
	}
	return local != "" && local == remote, nil
}

// linkAndTrack migrates every target, tracks empty directories, and commits
// the result. Push failures are logged and swallowed: the next periodic
// cycle retries them.
func (d *Daemon) linkAndTrack(message string) error {
	settings := d.Settings()

	if err := linker.PrecreateDirTargets(settings.HistDir, settings.Targets); err != nil {
		return errors.WithContext(err, "precreate targets")
	}
	if err := linker.MigrateAndLink(settings.Base, settings.HistDir, settings.Targets); err != nil {
		return errors.WithContext(err, "migrate and link")
	}
	if _, err := linker.TrackEmptyDirs(settings.HistDir, settings.Targets, settings.Excludes); err != nil {
		return errors.WithContext(err, "track empty dirs")
	}

	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()
	changed, err := d.repo.AddAllAndCommitIfNeeded(settings.HistDir, message)
	if err != nil {
		return errors.WithContext(err, "commit")
	}
	if changed {
		if err := d.repo.Push(settings.HistDir, settings.Branch); err != nil {
			log.WithError(err).Error("Push failed, the next cycle will retry")
		}
	}
	return nil
}

// SyncOnce runs one full synchronization cycle: rebase-pull, re-track empty
// directories, commit if the tree changed, push. Pull and push failures are
// transient and only logged; a commit failure is returned since it means
// local changes can't be captured at all.
func (d *Daemon) SyncOnce() error {
	settings := d.Settings()
	defer d.touch()

	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()

	if err := d.repo.PullRebase(settings.HistDir, settings.Branch); err != nil {
		log.WithError(err).Warn("Pull failed, continuing with local state")
	}
	if _, err := linker.TrackEmptyDirs(settings.HistDir, settings.Targets, settings.Excludes); err != nil {
		log.WithError(err).Warn("Empty directory scan failed")
	}

	changed, err := d.repo.AddAllAndCommitIfNeeded(settings.HistDir, "chore(sync): periodic commit")
	if err != nil {
		return errors.WithContext(err, "commit")
	}
	if err := d.repo.Push(settings.HistDir, settings.Branch); err != nil {
		log.WithError(err).Warn("Push failed, the next cycle will retry")
	} else if changed {
		log.Info("Committed and pushed changes")
	}
	return nil
}

// Init is the one-shot administrative operation: prepare the remote, run a
// single alignment attempt, then link, track, commit and push.
func (d *Daemon) Init() error {
	if err := d.prepareRemote(); err != nil {
		return err
	}
	if _, err := d.alignOnce(); err != nil {
		return err
	}
	return d.linkAndTrack("chore(sync): link and track empty dirs")
}

// Relink re-runs the migration for every target, then commits and pushes any
// resulting changes.
func (d *Daemon) Relink() error {
	return d.linkAndTrack("chore(sync): relink & empty dirs")
}

// Pull performs a single rebase-style pull.
func (d *Daemon) Pull() error {
	settings := d.Settings()
	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()
	return d.repo.PullRebase(settings.HistDir, settings.Branch)
}

// Push sends the local branch to the remote.
func (d *Daemon) Push() error {
	settings := d.Settings()
	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()
	return d.repo.Push(settings.HistDir, settings.Branch)
}

// TrackEmpty scans for empty directories, commits any new placeholders, and
// pushes. It returns the number of placeholders written.
func (d *Daemon) TrackEmpty() (int, error) {
	settings := d.Settings()
	written, err := linker.TrackEmptyDirs(settings.HistDir, settings.Targets, settings.Excludes)
	if err != nil {
		return written, errors.WithContext(err, "track empty dirs")
	}

	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()
	message := fmt.Sprintf("chore(sync): track empty (%d)", written)
	changed, err := d.repo.AddAllAndCommitIfNeeded(settings.HistDir, message)
	if err != nil {
		return written, errors.WithContext(err, "commit")
	}
	if changed {
		if err := d.repo.Push(settings.HistDir, settings.Branch); err != nil {
			return written, errors.WithContext(err, "push")
		}
	}
	return written, nil
}

// Trigger wakes the sync loop for an immediate cycle. It never blocks; if a
// cycle is already pending the nudge is dropped.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Settings returns a copy of the current runtime configuration.
func (d *Daemon) Settings() config.Settings {
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	return d.settings
}

func (d *Daemon) setState(state State) {
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	d.state = state
}

func (d *Daemon) touch() {
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	d.lastSync = d.clock.Now()
}

func (d *Daemon) interval() time.Duration {
	return time.Duration(d.Settings().Interval) * time.Second
}
