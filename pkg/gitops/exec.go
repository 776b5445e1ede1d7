package gitops

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/histsync/histsync/pkg/errors"
)

// RunRaw implements Facade. It exists for the operations go-git doesn't
// cover; the exit status is returned rather than folded into the error so
// callers can treat non-zero exits as data.
func (c *Client) RunRaw(argv []string, cwd string) (string, int, error) {
	if len(argv) == 0 {
		return "", 0, errors.New("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		log.WithFields(log.Fields{
			"argv":   strings.Join(argv, " "),
			"status": exitErr.ExitCode(),
			"stderr": strings.TrimSpace(stderr.String()),
		}).Debug("Command exited non-zero")
		return stdout.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return "", 0, errors.WithContext(err, "run "+argv[0])
	}
	return stdout.String(), 0, nil
}

// PullRebase implements Facade by shelling out: go-git (v4) has no rebase
// support, and a rebasing pull is what keeps the history linear when both
// sides committed.
func (c *Client) PullRebase(path, branch string) error {
	argv := []string{"git", "pull", "--rebase", remoteName, branch}
	_, status, err := c.RunRaw(argv, path)
	if err != nil {
		return err
	}
	if status != 0 {
		return errors.New(fmt.Sprintf("git pull --rebase exited with status %d", status))
	}
	return nil
}
