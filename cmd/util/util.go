package util

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/histsync/histsync/pkg/errors"
)

// HandleFatalError prints `err` and exits the process. Errors written for end
// users are printed verbatim, without the error chain prefix.
func HandleFatalError(err error) {
	if friendly, ok := errors.RootCause(err).(errors.Friendlier); ok {
		fmt.Fprintln(os.Stderr, friendly.FriendlyMessage())
	} else {
		log.WithError(err).Error("Fatal error")
	}
	os.Exit(1)
}

// HandlePanic controls how panics are presented to users. It should be
// deferred at the top of each goroutine that doesn't otherwise recover.
func HandlePanic() {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "histsync hit an unexpected error: %v\n%s",
			r, debug.Stack())
		os.Exit(1)
	}
}
