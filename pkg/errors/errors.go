package errors

import (
	goErrors "errors"
)

// New returns a basic error containing the given message.
func New(msg string) error {
	return goErrors.New(msg)
}

// ContextError annotates an error with the operation that produced it. The
// context strings accumulate as the error travels up the stack, so the final
// message reads like a call trace: "align with remote: fetch: connection
// refused".
type ContextError struct {
	Context string
	Err     error
}

// WithContext returns a new error wrapping `err` with the given context.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

func (ce ContextError) Error() string {
	return ce.Context + ": " + ce.Err.Error()
}

// Unwrap makes ContextError compatible with the standard errors package.
func (ce ContextError) Unwrap() error {
	return ce.Err
}

// RootCause strips all ContextError wrappers from `err` and returns the
// underlying error.
func RootCause(err error) error {
	for {
		ce, ok := err.(ContextError)
		if !ok {
			return err
		}
		err = ce.Err
	}
}
