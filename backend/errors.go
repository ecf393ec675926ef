package backend

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by Send when no backend process is available.
// No connection attempt is made in that case.
var ErrNotRunning = errors.New("backend not running")

// ProcessErrorKind is a closed classification of backend process failures.
type ProcessErrorKind int

const (
	// FailedToStart: the process could not be launched. The invoked program
	// is missing or not executable.
	FailedToStart ProcessErrorKind = iota
	// ProcessCrashed: the process exited some time after starting
	// successfully, without Stop being called.
	ProcessCrashed
	// StartTimeout: the process did not become ready in time.
	StartTimeout
	// WriteError: writing to the process failed, e.g. it closed its input.
	WriteError
	// ReadError: reading from the process failed, e.g. it is not running.
	ReadError
	// UnknownProcessError: an unidentified process error occurred.
	UnknownProcessError
)

var processErrorNames = map[ProcessErrorKind]string{
	FailedToStart:       "process failed to start",
	ProcessCrashed:      "process crashed after starting successfully",
	StartTimeout:        "timed out waiting for the process",
	WriteError:          "failed writing to the process",
	ReadError:           "failed reading from the process",
	UnknownProcessError: "unknown process error",
}

func (k ProcessErrorKind) String() string {
	if s, ok := processErrorNames[k]; ok {
		return s
	}
	return "unknown process error"
}

// ProcessError is a supervisor failure tagged with its kind.
type ProcessError struct {
	Kind ProcessErrorKind
	Err  error
}

func (e *ProcessError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
