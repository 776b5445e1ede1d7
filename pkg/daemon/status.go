package daemon

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/histsync/histsync/pkg/config"
	"github.com/histsync/histsync/pkg/errors"
)

// Status is a point-in-time snapshot of the daemon for the admin surface.
// Head and RemoteHead let an operator see alignment without reading logs.
type Status struct {
	Base           string    `json:"base"`
	HistDir        string    `json:"histDir"`
	Branch         string    `json:"branch"`
	Repo           string    `json:"repo"`
	Targets        []string  `json:"targets"`
	Excludes       []string  `json:"excludes"`
	State          string    `json:"state"`
	GitInitialized bool      `json:"gitInitialized"`
	Dirty          bool      `json:"dirty"`
	Head           string    `json:"head"`
	RemoteHead     string    `json:"remoteHead"`
	LastSync       time.Time `json:"lastSync"`
}

// Status builds a snapshot. Failures to query the repository degrade to
// empty fields rather than failing the whole status call.
func (d *Daemon) Status() Status {
	d.stateMutex.Lock()
	settings := d.settings
	state := d.state
	lastSync := d.lastSync
	d.stateMutex.Unlock()

	status := Status{
		Base:     settings.Base,
		HistDir:  settings.HistDir,
		Branch:   settings.Branch,
		Repo:     settings.GithubRepo,
		Targets:  targetStrings(settings.Targets),
		Excludes: excludeStrings(settings.Excludes),
		State:    string(state),
		LastSync: lastSync,
	}

	if fi, err := os.Stat(filepath.Join(settings.HistDir, ".git")); err == nil && fi.IsDir() {
		status.GitInitialized = true
	}

	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()
	if dirty, err := d.repo.IsDirty(settings.HistDir); err == nil {
		status.Dirty = dirty
	} else {
		log.WithError(err).Debug("Failed to check working tree state")
	}
	if head, err := d.repo.LocalHead(settings.HistDir); err == nil {
		status.Head = head
	} else {
		log.WithError(err).Debug("Failed to read local head")
	}
	if remoteHead, err := d.repo.RemoteHead(settings.HistDir, settings.Branch); err == nil {
		status.RemoteHead = remoteHead
	} else {
		log.WithError(err).Debug("Failed to read remote head")
	}
	return status
}

// SetTargets persists a new target list to the override file and applies it
// to the running configuration.
func (d *Daemon) SetTargets(targets []string) error {
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()

	overrides := config.Overrides{
		Targets:  targets,
		Excludes: excludeStrings(d.settings.Excludes),
	}
	if err := config.SaveOverrides(d.settings.HistDir, overrides); err != nil {
		return errors.WithContext(err, "save overrides")
	}
	d.settings.ApplyOverrides(overrides)
	return nil
}

// SetExcludes persists a new exclude list, applies it, and re-installs the
// repository ignore rules so the change takes effect immediately.
func (d *Daemon) SetExcludes(excludes []string) error {
	d.stateMutex.Lock()
	overrides := config.Overrides{
		Targets:  targetStrings(d.settings.Targets),
		Excludes: excludes,
	}
	if err := config.SaveOverrides(d.settings.HistDir, overrides); err != nil {
		d.stateMutex.Unlock()
		return errors.WithContext(err, "save overrides")
	}
	d.settings.ApplyOverrides(overrides)
	settings := d.settings
	d.stateMutex.Unlock()

	d.gitMutex.Lock()
	defer d.gitMutex.Unlock()
	err := d.repo.InstallExcludeRules(settings.HistDir, settings.Excludes)
	if err != nil {
		return errors.WithContext(err, "install exclude rules")
	}
	return nil
}

func targetStrings(targets []config.Target) []string {
	strs := []string{}
	for _, t := range targets {
		strs = append(strs, string(t))
	}
	return strs
}

func excludeStrings(excludes []config.ExcludeRule) []string {
	strs := []string{}
	for _, e := range excludes {
		strs = append(strs, string(e))
	}
	return strs
}
