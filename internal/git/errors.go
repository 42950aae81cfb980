package git

import (
	"fmt"
	"strings"
)

// Error reports a failed git invocation.
type Error struct {
	Op     string   // logical operation, e.g. "push"
	Args   []string // git arguments, without -C
	Output string   // combined stderr/stdout, trimmed
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("git %s failed: %v", e.Op, e.Err)
	if e.Output != "" {
		msg += ": " + firstLines(e.Output, 3)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Command returns the git command line that failed.
func (e *Error) Command() string {
	return "git " + strings.Join(e.Args, " ")
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, " | ")
}
