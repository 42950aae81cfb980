package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scripted answers questions from per-key queues. An answer that a question
// rejects is consumed and the next queued answer is tried, the same way an
// interactive user would be asked again.
type Scripted struct {
	mu      sync.Mutex
	answers map[string][]string
	asked   []string
}

// NewScripted returns a Scripted with no answers queued.
func NewScripted() *Scripted {
	return &Scripted{answers: make(map[string][]string)}
}

// ParseAnswers builds a Scripted from key=value pairs, as given on the
// command line. Repeating a key queues several answers.
func ParseAnswers(pairs []string) (*Scripted, error) {
	s := NewScripted()
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid answer %q (expected key=value)", pair)
		}
		s.Add(key, value)
	}
	return s, nil
}

// Add queues answers for key.
func (s *Scripted) Add(key string, values ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[key] = append(s.answers[key], values...)
	return s
}

// Asked returns the keys of every question asked so far, in order.
func (s *Scripted) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

// Remaining returns how many answers are still queued for key.
func (s *Scripted) Remaining(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers[key])
}

// next pops answers for key until accept returns true.
func (s *Scripted) next(ctx context.Context, key string, accept func(string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, key)
	for len(s.answers[key]) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		answer := s.answers[key][0]
		s.answers[key] = s.answers[key][1:]
		if accept(answer) {
			return nil
		}
	}
	return &NoAnswerError{Key: key}
}

func (s *Scripted) Select(ctx context.Context, q Select) (string, error) {
	var value string
	err := s.next(ctx, q.Key, func(answer string) bool {
		if answer == "" {
			// The default counts only when it is still one of the options.
			answer = q.Default
		}
		v, ok := q.lookup(answer)
		value = v
		return ok
	})
	return value, err
}

func (s *Scripted) Input(ctx context.Context, q Input) (string, error) {
	var value string
	err := s.next(ctx, q.Key, func(answer string) bool {
		if q.Validate != nil && q.Validate(answer) != nil {
			return false
		}
		value = answer
		return true
	})
	return value, err
}

func (s *Scripted) Confirm(ctx context.Context, q Confirm) (bool, error) {
	var value bool
	err := s.next(ctx, q.Key, func(answer string) bool {
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "":
			value = q.Default
		case "y", "yes", "true", "1":
			value = true
		case "n", "no", "false", "0":
			value = false
		default:
			return false
		}
		return true
	})
	return value, err
}
