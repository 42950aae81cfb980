package release

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shipyard-cli/shipyard/internal/prompt"
)

// ConfigError reports a missing or invalid setting: project descriptor,
// build command or workflow options.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConflictError means the working tree has unmerged paths. The user must
// resolve them by hand before running again.
type ConflictError struct {
	Paths []string
	Err   error // the failing pull or merge, if any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflicts in %s; resolve them manually and run again",
		strings.Join(e.Paths, ", "))
}

func (e *ConflictError) Unwrap() error { return e.Err }

// UserAbortError means the user declined or cancelled a step.
type UserAbortError struct {
	Reason string
	Err    error
}

func (e *UserAbortError) Error() string { return e.Reason }

func (e *UserAbortError) Unwrap() error { return e.Err }

// StageError wraps the error that stopped the workflow with the stage name.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// IsUserAbort reports whether err ends in a UserAbortError.
func IsUserAbort(err error) bool {
	var abort *UserAbortError
	return errors.As(err, &abort)
}

func asAbort(err error) error {
	if errors.Is(err, prompt.ErrAborted) && !IsUserAbort(err) {
		return &UserAbortError{Reason: "cancelled at prompt", Err: err}
	}
	return err
}
