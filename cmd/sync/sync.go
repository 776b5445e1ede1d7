package sync

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/histsync/histsync/cmd/util"
	"github.com/histsync/histsync/pkg/config"
	syncd "github.com/histsync/histsync/pkg/daemon"
	"github.com/histsync/histsync/pkg/gitops"
)

// New creates a new `sync` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a one-shot full sync.",
		Long: "Prepare the remote, align with its tip, migrate the configured\n" +
			"targets into the history repository, and commit and push the result.",
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
	if err := d.Init(); err != nil {
		return err
	}

	fmt.Printf("Synced %d target(s) into %s\n", len(settings.Targets), settings.HistDir)
	return nil
}
