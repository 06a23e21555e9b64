package ui

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
)

// ErrUserCancelled is returned when the user aborts a prompt.
var ErrUserCancelled = errors.New("cancelled by user")

// Out receives all styled output. It is stderr so stdout stays clean for
// --json piping.
var Out io.Writer = os.Stderr

var (
	accent    = lipgloss.Color("#22c55e")
	subtle    = lipgloss.Color("#666666")
	highlight = lipgloss.Color("#60a5fa")
	warning   = lipgloss.Color("#eab308")
	danger    = lipgloss.Color("#ef4444")
	info      = lipgloss.Color("#06b6d4")

	titleStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(accent)

	errorStyle = lipgloss.NewStyle().
			Foreground(danger)

	mutedStyle = lipgloss.NewStyle().
			Foreground(subtle)

	greenStyle  = lipgloss.NewStyle().Foreground(accent)
	yellowStyle = lipgloss.NewStyle().Foreground(warning)
	redStyle    = lipgloss.NewStyle().Foreground(danger)
	cyanStyle   = lipgloss.NewStyle().Foreground(info)
	blueStyle   = lipgloss.NewStyle().Foreground(highlight)
)

func Green(text string) string {
	return greenStyle.Render(text)
}

func Yellow(text string) string {
	return yellowStyle.Render(text)
}

func Red(text string) string {
	return redStyle.Render(text)
}

func Cyan(text string) string {
	return cyanStyle.Render(text)
}

func Blue(text string) string {
	return blueStyle.Render(text)
}

func Header(text string) {
	fmt.Fprintln(Out, titleStyle.Render("=== "+text+" ==="))
}

func Success(text string) {
	fmt.Fprintln(Out, successStyle.Render("✓ "+text))
}

func Error(text string) {
	fmt.Fprintln(Out, errorStyle.Render("✗ "+text))
}

func Info(text string) {
	fmt.Fprintln(Out, "  "+text)
}

func Muted(text string) {
	fmt.Fprintln(Out, mutedStyle.Render(text))
}

func Warn(text string) {
	fmt.Fprintln(Out, yellowStyle.Render("⚠ "+text))
}

// formError maps a huh abort to ErrUserCancelled.
func formError(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrUserCancelled
	}
	return err
}

func SelectPreset(current snapshot.Preset) (snapshot.Preset, error) {
	preset := current
	descriptions := map[snapshot.Preset]string{
		snapshot.PresetLight:  "sources only, skips node_modules, dist and logs",
		snapshot.PresetMedium: "keeps dependencies, skips package store and logs",
		snapshot.PresetHeavy:  "everything in the working tree",
	}

	options := make([]huh.Option[snapshot.Preset], 0)
	for _, p := range snapshot.Presets() {
		label := fmt.Sprintf("%s - %s", p, descriptions[p])
		options = append(options, huh.NewOption(label, p))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[snapshot.Preset]().
				Title("Choose a snapshot preset").
				Options(options...).
				Value(&preset),
		),
	)

	err := form.Run()
	return preset, formError(err)
}

func Confirm(question string, defaultVal bool) (bool, error) {
	var result bool = defaultVal

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&result),
		),
	)

	err := form.Run()
	return result, formError(err)
}
