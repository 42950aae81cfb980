// Package ui provides terminal styling for shipyard CLI output.
// Colors adapt to light and dark terminals.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// StageStyle renders workflow stage names.
var StageStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
	IconStep = "→"
)

const TreeLast = "└─ "

func RenderPass(s string) string {
	return PassStyle.Render(s)
}

func RenderWarn(s string) string {
	return WarnStyle.Render(s)
}

func RenderFail(s string) string {
	return FailStyle.Render(s)
}

func RenderMuted(s string) string {
	return MutedStyle.Render(s)
}

func RenderAccent(s string) string {
	return AccentStyle.Render(s)
}

func RenderPassIcon() string {
	return PassStyle.Render(IconPass)
}

func RenderWarnIcon() string {
	return WarnStyle.Render(IconWarn)
}

func RenderFailIcon() string {
	return FailStyle.Render(IconFail)
}

func RenderInfoIcon() string {
	return AccentStyle.Render(IconInfo)
}

// RenderStage formats the header line printed when a workflow stage starts.
func RenderStage(name string) string {
	return AccentStyle.Render(IconStep) + " " + StageStyle.Render(name)
}

// RenderStep formats a completed sub-step of a stage.
func RenderStep(format string, args ...interface{}) string {
	return "  " + RenderPassIcon() + " " + fmt.Sprintf(format, args...)
}

// RenderWarning formats a warning sub-step of a stage.
func RenderWarning(format string, args ...interface{}) string {
	return "  " + RenderWarnIcon() + " " + RenderWarn(fmt.Sprintf(format, args...))
}

// RenderDetail formats an indented muted detail line, such as build progress.
func RenderDetail(s string) string {
	return "  " + MutedStyle.Render(TreeLast+strings.TrimRight(s, "\n"))
}

// MaskSecret hides all but the last four characters of a credential.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
