package status

import (
	"fmt"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"

	"github.com/histsync/histsync/cmd/util"
	"github.com/histsync/histsync/pkg/config"
	syncd "github.com/histsync/histsync/pkg/daemon"
	"github.com/histsync/histsync/pkg/errors"
	"github.com/histsync/histsync/pkg/gitops"
)

// New creates a new `status` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the sync configuration and repository state.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run() error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	d := syncd.New(settings, gitops.NewClient(settings.GithubPAT))
	out, err := yaml.Marshal(d.Status())
	if err != nil {
		return errors.WithContext(err, "marshal status")
	}
	fmt.Print(string(out))
	return nil
}
