package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/histsync/histsync/cmd/util"
	"github.com/histsync/histsync/pkg/config"
	syncd "github.com/histsync/histsync/pkg/daemon"
	"github.com/histsync/histsync/pkg/fswatch"
	"github.com/histsync/histsync/pkg/gitops"
	"github.com/histsync/histsync/pkg/logbuf"
	"github.com/histsync/histsync/pkg/server"
)

// New creates a new `daemon` command.
func New() *cobra.Command {
	var noAdmin bool
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon.",
		Long: "Align the history repository with its remote, migrate the\n" +
			"configured targets into it, and keep both sides synchronized\n" +
			"with a periodic pull/commit/push cycle.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(noAdmin, noWatch); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false,
		"Disable the admin HTTP surface.")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false,
		"Disable the filesystem watcher; sync on the periodic interval only.")
	return cmd
}

func run(noAdmin, noWatch bool) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	// Retain recent warnings and errors for the admin surface's log endpoint.
	log.AddHook(logbuf.Buffer)

	d := syncd.New(settings, gitops.NewClient(settings.GithubPAT))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		log.Info("Shutting down")
		cancel()
	}()

	if !noAdmin {
		go func() {
			defer util.HandlePanic()
			if err := server.New(d).ListenAndServe(settings.Port); err != nil {
				log.WithError(err).Error("Admin surface exited")
			}
		}()
	}

	if !noWatch {
		go func() {
			defer util.HandlePanic()
			watchHistory(settings, d)
		}()
	}

	return d.Run(ctx)
}

// watchHistory forwards history-tree change events into the daemon so local
// writes get committed ahead of the periodic interval. The watcher is best
// effort: when it can't be set up, the periodic cycle still covers every
// change.
func watchHistory(settings config.Settings, d *syncd.Daemon) {
	var roots []string
	for _, target := range settings.Targets {
		roots = append(roots, config.HistoryPath(settings.HistDir, target.Clean()))
	}

	events, err := fswatch.Watch(roots)
	if err != nil {
		log.WithError(err).Warn(
			"Could not watch the history tree for changes, " +
				"falling back to the periodic interval only")
		return
	}

	for range events {
		d.Trigger()
	}
}
