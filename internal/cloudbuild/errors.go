package cloudbuild

import (
	"fmt"
	"time"
)

// BuildConnectError means the build service could not be reached or refused
// the session.
type BuildConnectError struct {
	Server  string
	Message string
	Err     error
}

func (e *BuildConnectError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("cloud build connection to %s refused: %s", e.Server, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("cloud build connection to %s failed: %v", e.Server, e.Err)
	default:
		return fmt.Sprintf("cloud build connection to %s failed", e.Server)
	}
}

func (e *BuildConnectError) Unwrap() error {
	return e.Err
}

// BuildTimeoutError means no connection ack arrived in time.
type BuildTimeoutError struct {
	Server  string
	Timeout time.Duration
}

func (e *BuildTimeoutError) Error() string {
	return fmt.Sprintf("cloud build service %s did not respond within %s", e.Server, e.Timeout)
}

// BuildFailedError means the build ran but did not publish.
type BuildFailedError struct {
	Message string
	Err     error
}

func (e *BuildFailedError) Error() string {
	msg := "cloud build failed"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *BuildFailedError) Unwrap() error {
	return e.Err
}
