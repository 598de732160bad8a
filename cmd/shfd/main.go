package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"shfd/internal/daemon"
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	os.Exit(exitCode(err, cmd.ErrOrStderr()))
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// usageError marks bad flags or arguments.
func usageError(err error) error {
	return &exitError{code: daemon.ExitUsage, err: err}
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, err)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return daemon.ExitInit
}
