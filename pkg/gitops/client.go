package gitops

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	git "gopkg.in/src-d/go-git.v4"
	gitconfig "gopkg.in/src-d/go-git.v4/config"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/format/gitignore"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/transport"
	githttp "gopkg.in/src-d/go-git.v4/plumbing/transport/http"

	"github.com/histsync/histsync/pkg/config"
	"github.com/histsync/histsync/pkg/errors"
)

const remoteName = "origin"

// Commits are authored by the daemon itself; the history repository has a
// single writer per host.
const (
	commitAuthorName  = "histsync"
	commitAuthorEmail = "histsync@localhost"
)

// Client implements Facade with go-git. The two operations the library
// doesn't provide (rebasing pulls and raw invocations) shell out to the git
// binary instead.
type Client struct {
	auth     transport.AuthMethod
	excludes []gitignore.Pattern
}

// NewClient returns a Client authenticating against the remote with the
// given access token. An empty token means unauthenticated access.
func NewClient(token string) *Client {
	c := &Client{}
	if token != "" {
		c.auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	return c
}

// EnsureRepo implements Facade.
func (c *Client) EnsureRepo(path, branch string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.WithContext(err, "create repo dir")
	}

	repo, err := git.PlainInit(path, false)
	if err == git.ErrRepositoryAlreadyExists {
		repo, err = git.PlainOpen(path)
	}
	if err != nil {
		return errors.WithContext(err, "open repo")
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	head, err := repo.Head()
	if err != nil {
		// No commits yet. Retarget the unborn HEAD so the first commit lands
		// on the configured branch.
		symbolic := plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)
		if err := repo.Storer.SetReference(symbolic); err != nil {
			return errors.WithContext(err, "set head")
		}
		return nil
	}

	if head.Name() == branchRef {
		return nil
	}

	worktree, err := c.worktree(repo)
	if err != nil {
		return errors.WithContext(err, "open worktree")
	}
	_, refErr := repo.Reference(branchRef, false)
	err = worktree.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Create: refErr != nil,
		Force:  true,
	})
	if err != nil {
		return errors.WithContext(err, "checkout branch")
	}
	return nil
}

// SetRemote implements Facade. An existing origin with a different URL is
// replaced, so reconfiguration doesn't require manual cleanup.
func (c *Client) SetRemote(path, url string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return errors.WithContext(err, "open repo")
	}

	if remote, err := repo.Remote(remoteName); err == nil {
		urls := remote.Config().URLs
		if len(urls) == 1 && urls[0] == url {
			return nil
		}
		if err := repo.DeleteRemote(remoteName); err != nil {
			return errors.WithContext(err, "delete remote")
		}
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{url},
	})
	if err != nil {
		return errors.WithContext(err, "create remote")
	}
	return nil
}

// RemoteIsEmpty implements Facade.
func (c *Client) RemoteIsEmpty(path string) (bool, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false, errors.WithContext(err, "open repo")
	}
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return false, errors.WithContext(err, "get remote")
	}

	refs, err := remote.List(&git.ListOptions{Auth: c.auth})
	if err == transport.ErrEmptyRemoteRepository {
		return true, nil
	}
	if err != nil {
		return false, errors.WithContext(err, "list remote refs")
	}
	return len(refs) == 0, nil
}

// InitialCommitIfNeeded implements Facade. go-git has no --allow-empty
// guard, so committing the (possibly empty) index is enough to give the
// branch a tip.
func (c *Client) InitialCommitIfNeeded(path string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return errors.WithContext(err, "open repo")
	}
	if _, err := repo.Head(); err == nil {
		return nil
	}

	worktree, err := c.worktree(repo)
	if err != nil {
		return errors.WithContext(err, "open worktree")
	}
	if err := c.stageAll(worktree); err != nil {
		return err
	}
	_, err = worktree.Commit("chore(sync): initial commit", commitOptions())
	if err != nil {
		return errors.WithContext(err, "commit")
	}
	return nil
}

// FetchAndCheckout implements Facade.
func (c *Client) FetchAndCheckout(path, branch string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return errors.WithContext(err, "open repo")
	}

	refspec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s",
		branch, remoteName, branch))
	err = repo.Fetch(&git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       c.auth,
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.WithContext(err, "fetch")
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return errors.WithContext(err, "resolve remote branch")
	}

	worktree, err := c.worktree(repo)
	if err != nil {
		return errors.WithContext(err, "open worktree")
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, false); err != nil {
		err = worktree.Checkout(&git.CheckoutOptions{
			Hash:   remoteRef.Hash(),
			Branch: branchRef,
			Create: true,
			Force:  true,
		})
		if err != nil {
			return errors.WithContext(err, "create local branch")
		}
	} else {
		err = worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true})
		if err != nil {
			return errors.WithContext(err, "checkout branch")
		}
	}

	err = worktree.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset})
	if err != nil {
		return errors.WithContext(err, "reset to remote tip")
	}
	return nil
}

// Push implements Facade.
func (c *Client) Push(path, branch string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return errors.WithContext(err, "open repo")
	}

	refspec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       c.auth,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.WithContext(err, "push")
	}
	return nil
}

// AddAllAndCommitIfNeeded implements Facade.
func (c *Client) AddAllAndCommitIfNeeded(path, message string) (bool, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false, errors.WithContext(err, "open repo")
	}
	worktree, err := c.worktree(repo)
	if err != nil {
		return false, errors.WithContext(err, "open worktree")
	}

	status, err := worktree.Status()
	if err != nil {
		return false, errors.WithContext(err, "status")
	}
	if status.IsClean() {
		return false, nil
	}

	if err := c.stageAll(worktree); err != nil {
		return false, err
	}
	_, err = worktree.Commit(message, commitOptions())
	if err != nil {
		return false, errors.WithContext(err, "commit")
	}
	return true, nil
}

// InstallExcludeRules implements Facade. Rules land in .git/info/exclude so
// they stay out of the tracked tree, and are mirrored into the worktree's
// in-memory exclude list because go-git does not read info/exclude itself.
func (c *Client) InstallExcludeRules(path string, rules []config.ExcludeRule) error {
	var lines []string
	var patterns []gitignore.Pattern
	lines = append(lines, "# maintained by histsync; do not edit")
	for _, rule := range rules {
		trimmed := strings.Trim(string(rule), "/")
		if trimmed == "" {
			continue
		}
		line := "/" + trimmed
		lines = append(lines, line)
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	excludePath := filepath.Join(path, ".git", "info", "exclude")
	if err := os.MkdirAll(filepath.Dir(excludePath), 0755); err != nil {
		return errors.WithContext(err, "create info dir")
	}
	contents := strings.Join(lines, "\n") + "\n"
	if err := ioutil.WriteFile(excludePath, []byte(contents), 0644); err != nil {
		return errors.WithContext(err, "write exclude file")
	}

	c.excludes = patterns
	return nil
}

// LocalHead implements Facade.
func (c *Client) LocalHead(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", errors.WithContext(err, "open repo")
	}
	head, err := repo.Head()
	if err == plumbing.ErrReferenceNotFound {
		return "", nil
	}
	if err != nil {
		return "", errors.WithContext(err, "resolve head")
	}
	return head.Hash().String(), nil
}

// RemoteHead implements Facade.
func (c *Client) RemoteHead(path, branch string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", errors.WithContext(err, "open repo")
	}
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err == plumbing.ErrReferenceNotFound {
		return "", nil
	}
	if err != nil {
		return "", errors.WithContext(err, "resolve remote branch")
	}
	return ref.Hash().String(), nil
}

// IsDirty implements Facade.
func (c *Client) IsDirty(path string) (bool, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false, errors.WithContext(err, "open repo")
	}
	worktree, err := c.worktree(repo)
	if err != nil {
		return false, errors.WithContext(err, "open worktree")
	}
	status, err := worktree.Status()
	if err != nil {
		return false, errors.WithContext(err, "status")
	}
	return !status.IsClean(), nil
}

func (c *Client) worktree(repo *git.Repository) (*git.Worktree, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	worktree.Excludes = append(worktree.Excludes, c.excludes...)
	return worktree, nil
}

// stageAll stages untracked files explicitly; modifications and deletions of
// tracked files are staged by the commit's All option.
func (c *Client) stageAll(worktree *git.Worktree) error {
	status, err := worktree.Status()
	if err != nil {
		return errors.WithContext(err, "status")
	}
	for file, fileStatus := range status {
		if fileStatus.Worktree != git.Untracked {
			continue
		}
		if _, err := worktree.Add(file); err != nil {
			log.WithError(err).WithField("file", file).Warn("Failed to stage file")
		}
	}
	return nil
}

func commitOptions() *git.CommitOptions {
	return &git.CommitOptions{
		All: true,
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
	}
}
