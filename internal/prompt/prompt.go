// Package prompt is the port through which the release workflow asks the
// user questions. Terminal renders interactive forms; Scripted answers from a
// queue for tests and non-interactive runs.
package prompt

import (
	"context"
	"errors"
	"fmt"
)

// Question keys used by the release workflow.
const (
	KeyPlatform      = "platform"
	KeyToken         = "token"
	KeyOwner         = "owner"
	KeyOrg           = "org"
	KeyCommitMessage = "commit-message"
	KeyVersionBump   = "version-bump"
	KeyOverwrite     = "overwrite"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("prompt cancelled by user")

// NoAnswerError is returned by Scripted when no usable answer is queued.
type NoAnswerError struct {
	Key string
}

func (e *NoAnswerError) Error() string {
	return fmt.Sprintf("no answer provided for %q (use --answer %s=<value>)", e.Key, e.Key)
}

// Option is one choice of a Select.
type Option struct {
	Label string
	Value string
}

// Select asks for one of a fixed set of values.
type Select struct {
	Key         string
	Title       string
	Description string
	Options     []Option
	Default     string
}

// Input asks for free text.
type Input struct {
	Key         string
	Title       string
	Description string
	Secret      bool
	// Validate rejects an answer; the user is asked again.
	Validate func(string) error
}

// Confirm asks a yes/no question.
type Confirm struct {
	Key     string
	Title   string
	Default bool
}

// Asker answers questions.
type Asker interface {
	Select(ctx context.Context, q Select) (string, error)
	Input(ctx context.Context, q Input) (string, error)
	Confirm(ctx context.Context, q Confirm) (bool, error)
}

func (q Select) lookup(answer string) (string, bool) {
	for _, opt := range q.Options {
		if answer == opt.Value || answer == opt.Label {
			return opt.Value, true
		}
	}
	return "", false
}
