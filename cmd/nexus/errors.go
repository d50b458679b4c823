package main

import (
	"context"
	"errors"
	"fmt"
)

// Exit codes for the CLI.
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitTaskFailed  = 2
	ExitTimeout     = 3
	ExitCancelled   = 4
	ExitConfigError = 10
)

// cliError carries an exit code.
type cliError struct {
	Code    int
	Message string
	Cause   error
}

func (e *cliError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *cliError) Unwrap() error {
	return e.Cause
}

func wrapError(code int, message string, err error) *cliError {
	return &cliError{Code: code, Message: message, Cause: err}
}

// exitCode maps an error returned by a command to a process exit code.
func exitCode(err error) int {
	var ce *cliError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	default:
		return ExitError
	}
}
