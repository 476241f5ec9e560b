// Package chat is the full-screen terminal chat for talking to the persona
// through the relay router.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SendFunc hands one typed message to the relay and returns once it has been
// handled. Replies arrive through the Sink.
type SendFunc func(ctx context.Context, text string) error

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	Persona      string
	TextBackend  string
	ImageBackend string
}

// Options configures Run.
type Options struct {
	Send SendFunc
	Sink *Sink
	Info RuntimeInfo
	Out  io.Writer
}

// Run blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	if opts.Send == nil {
		return errors.New("send function is required")
	}
	if opts.Sink == nil {
		return errors.New("sink is required")
	}
	defer opts.Sink.Close()

	programOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion()}
	if opts.Out != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Out))
	}

	program := tea.NewProgram(newModel(ctx, opts.Send, opts.Sink, opts.Info), programOpts...)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	if opts.Out != nil {
		fmt.Fprintln(opts.Out, renderGoodbyeBanner(opts.Info.Persona))
	}
	return nil
}

func renderGoodbyeBanner(persona string) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(moonlight.moon).
		Background(moonlight.night).
		Padding(1, 2)

	return style.Render("🌙 " + displayOrNA(persona) + " says goodnight")
}
