package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/histsync/histsync/pkg/errors"
)

// Defaults for settings that aren't overridden by the environment.
const (
	DefaultBase     = "/"
	DefaultHistDir  = "~/.histsync"
	DefaultBranch   = "main"
	DefaultTargets  = "data/"
	DefaultInterval = 180
	DefaultPort     = 5321
)

// A Target is a path relative to the base root that should be migrated into
// the history tree. A trailing path separator marks the target as a
// directory; without it the target is treated as a file. Targets are
// processed in their declared order, and duplicates are allowed.
type Target string

// IsDir reports whether the target is directory-typed.
func (t Target) IsDir() bool {
	return strings.HasSuffix(string(t), "/")
}

// Clean returns the target path with any trailing separator stripped, which
// is the form used for symlink and mirror paths.
func (t Target) Clean() string {
	return strings.TrimRight(string(t), "/")
}

// An ExcludeRule is a path (or path prefix) relative to the history root.
// Matching paths are skipped by empty-directory scanning and hidden from
// version control via ignore rules.
type ExcludeRule string

// Matches reports whether `rel`, a history-root-relative path, is covered by
// the rule. A rule covers its own path and everything beneath it.
func (r ExcludeRule) Matches(rel string) bool {
	rule := strings.Trim(string(r), "/")
	rel = strings.Trim(rel, "/")
	if rule == "" {
		return false
	}
	return rel == rule || strings.HasPrefix(rel, rule+"/")
}

// Settings is the runtime configuration for the sync daemon. It's constructed
// once at process start by Load and passed into the orchestrator and the
// linker explicitly; nothing reads the environment after that.
type Settings struct {
	// Base is the root of the live tree under which targets are declared.
	Base string

	// HistDir is the root of the version-controlled history repository.
	HistDir string

	// Branch is the git branch the history repository tracks.
	Branch string

	// GithubRepo identifies the remote repository as "owner/repo".
	GithubRepo string

	// GithubPAT is the access token used to authenticate against the remote.
	GithubPAT string

	Targets  []Target
	Excludes []ExcludeRule

	// Interval is the number of seconds between periodic sync cycles.
	Interval int

	// Port is the listen port for the admin HTTP surface.
	Port int
}

// RemoteURL returns the authenticated URL of the remote repository.
func (s Settings) RemoteURL() string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git",
		s.GithubPAT, s.GithubRepo)
}

// ValidateRemote checks that the remote repository identity and credential
// are configured. Syncing can't make progress without them, so callers treat
// a failure here as fatal.
func (s Settings) ValidateRemote() error {
	if s.GithubRepo == "" {
		return errors.NewFriendlyError(
			"No remote repository is configured.\n" +
				"Set GITHUB_REPO to the \"owner/repo\" that should receive the history.")
	}
	if s.GithubPAT == "" {
		return errors.NewFriendlyError(
			"No remote credential is configured.\n" +
				"Set GITHUB_PAT to a token with push access to " + s.GithubRepo + ".")
	}
	return nil
}

// Load builds the Settings from the environment, then applies any overrides
// persisted under the history root. The override file only replaces the
// target and exclude lists; everything else is environment-derived.
func Load() (Settings, error) {
	base := strings.TrimRight(getEnv("BASE", DefaultBase), "/")
	if base == "" {
		base = "/"
	}

	histDir, err := homedir.Expand(getEnv("HIST_DIR", DefaultHistDir))
	if err != nil {
		return Settings{}, errors.WithContext(err, "expand history dir")
	}
	histDir, err = filepath.Abs(histDir)
	if err != nil {
		return Settings{}, errors.WithContext(err, "resolve history dir")
	}

	interval, err := intEnv("SYNC_INTERVAL", DefaultInterval)
	if err != nil {
		return Settings{}, err
	}
	port, err := intEnv("SYNC_PORT", DefaultPort)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		Base:       base,
		HistDir:    histDir,
		Branch:     getEnv("GIT_BRANCH", DefaultBranch),
		GithubRepo: os.Getenv("GITHUB_REPO"),
		GithubPAT:  os.Getenv("GITHUB_PAT"),
		Targets:    ParseTargets(getEnv("SYNC_TARGETS", DefaultTargets)),
		Excludes:   ParseExcludes(os.Getenv("EXCLUDE_PATHS")),
		Interval:   interval,
		Port:       port,
	}

	settings.ApplyOverrides(loadOverrides(histDir))
	return settings, nil
}

// ApplyOverrides replaces the target and exclude lists with those from the
// override file. Either list may be absent, in which case the current value
// is kept.
func (s *Settings) ApplyOverrides(overrides Overrides) {
	var targets []Target
	for _, t := range overrides.Targets {
		t = strings.TrimLeft(strings.TrimSpace(t), "/")
		if t != "" {
			targets = append(targets, Target(t))
		}
	}
	if len(targets) > 0 {
		s.Targets = targets
	}

	var excludes []ExcludeRule
	for _, e := range overrides.Excludes {
		e = strings.Trim(strings.TrimSpace(e), "/")
		if e != "" {
			excludes = append(excludes, ExcludeRule(e))
		}
	}
	if len(excludes) > 0 {
		s.Excludes = excludes
	}
}

// ParseTargets splits a whitespace-delimited target list.
func ParseTargets(raw string) []Target {
	var targets []Target
	for _, field := range strings.Fields(raw) {
		targets = append(targets, Target(field))
	}
	return targets
}

// ParseExcludes splits a whitespace-delimited exclude list.
func ParseExcludes(raw string) []ExcludeRule {
	var excludes []ExcludeRule
	for _, field := range strings.Fields(raw) {
		excludes = append(excludes, ExcludeRule(field))
	}
	return excludes
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewFriendlyError(
			"%s must be a number of seconds, but it's set to %q.", key, raw)
	}
	return val, nil
}
