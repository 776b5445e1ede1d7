package errors

import (
	"fmt"
)

// Friendlier errors have a message meant to be printed directly to the user,
// without the usual error chain prefix.
type Friendlier interface {
	FriendlyMessage() string
}

// FriendlyError is an error whose message is written for end users rather
// than developers. Fatal error handling prints the message verbatim.
type FriendlyError struct {
	Message string
}

// NewFriendlyError creates a new FriendlyError according to the format
// specifier.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{Message: fmt.Sprintf(format, args...)}
}

func (err FriendlyError) Error() string {
	return err.Message
}

// FriendlyMessage implements the Friendlier interface.
func (err FriendlyError) FriendlyMessage() string {
	return err.Message
}
