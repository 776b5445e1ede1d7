package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	daemonCmd "github.com/histsync/histsync/cmd/daemon"
	statusCmd "github.com/histsync/histsync/cmd/status"
	syncCmd "github.com/histsync/histsync/cmd/sync"
	versionCmd "github.com/histsync/histsync/cmd/version"
	"github.com/histsync/histsync/cmd/util"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "HISTSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "histsync",
		Short:        "Mirror live paths into a git-backed history repository.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		daemonCmd.New(),
		statusCmd.New(),
		syncCmd.New(),
		versionCmd.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
