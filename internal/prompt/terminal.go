package prompt

import (
	"context"
	"errors"

	"github.com/charmbracelet/huh"
)

// Terminal asks questions with interactive huh forms.
type Terminal struct {
	theme *huh.Theme
}

// NewTerminal returns a Terminal using the default theme.
func NewTerminal() *Terminal {
	return &Terminal{theme: huh.ThemeDracula()}
}

func (t *Terminal) run(ctx context.Context, field huh.Field) error {
	err := huh.NewForm(huh.NewGroup(field)).WithTheme(t.theme).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}

func (t *Terminal) Select(ctx context.Context, q Select) (string, error) {
	options := make([]huh.Option[string], 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, huh.NewOption(opt.Label, opt.Value))
	}
	value := q.Default
	field := huh.NewSelect[string]().
		Title(q.Title).
		Description(q.Description).
		Options(options...).
		Value(&value)
	if err := t.run(ctx, field); err != nil {
		return "", err
	}
	return value, nil
}

func (t *Terminal) Input(ctx context.Context, q Input) (string, error) {
	var value string
	field := huh.NewInput().
		Title(q.Title).
		Description(q.Description).
		Value(&value)
	if q.Secret {
		field = field.EchoMode(huh.EchoModePassword)
	}
	if q.Validate != nil {
		field = field.Validate(q.Validate)
	}
	if err := t.run(ctx, field); err != nil {
		return "", err
	}
	return value, nil
}

func (t *Terminal) Confirm(ctx context.Context, q Confirm) (bool, error) {
	value := q.Default
	field := huh.NewConfirm().
		Title(q.Title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if err := t.run(ctx, field); err != nil {
		return false, err
	}
	return value, nil
}
