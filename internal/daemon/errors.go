package daemon

import (
	"errors"
	"fmt"
)

// Stage names the startup or runtime phase a fatal error came from.
type Stage string

const (
	StageInit    Stage = "init"
	StageListen  Stage = "listen"
	StageSpawn   Stage = "spawn"
	StageSignals Stage = "signals"
	StageAccept  Stage = "accept"
)

// Process exit codes for each stage. ExitUsage is used by the CLI for flag errors.
const (
	ExitUsage   = 29
	ExitInit    = 1
	ExitListen  = 2
	ExitSpawn   = 3
	ExitSignals = 92
	ExitAccept  = 133
)

// StageError wraps a fatal daemon error with the phase that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// ExitCode maps an error returned by Run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StageError
	if !errors.As(err, &se) {
		return ExitInit
	}
	switch se.Stage {
	case StageListen:
		return ExitListen
	case StageSpawn:
		return ExitSpawn
	case StageSignals:
		return ExitSignals
	case StageAccept:
		return ExitAccept
	default:
		return ExitInit
	}
}
