package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"lunarelay/pkg/channel"
	"lunarelay/pkg/channel/console"
	"lunarelay/pkg/persona"
	"lunarelay/pkg/router"
	chatui "lunarelay/pkg/ui/chat"
)

var (
	messageText string
	photoDir    string
	useTUI      bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the persona from the terminal",
	Long:  "Runs messages through the same router as the gateway, printing replies and saving photos locally. Without a message it starts an interactive chat, full-screen with --tui.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime("cmd.chat")
		if err != nil {
			return err
		}

		p, err := persona.Load(cfg.Persona)
		if err != nil {
			return fmt.Errorf("load persona: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		message := resolveMessage(args)
		if useTUI && message == "" {
			// stderr logging would draw over the alt screen.
			sink := chatui.NewSink(photoDir)
			r, err := newRouter(cfg, sink, nil, slog.New(slog.DiscardHandler))
			if err != nil {
				return err
			}
			return chatui.Run(ctx, chatui.Options{
				Send: consoleSend(r),
				Sink: sink,
				Info: chatui.RuntimeInfo{Persona: p.Name, TextBackend: cfg.Backends.Text, ImageBackend: cfg.Backends.Image},
				Out:  cmd.OutOrStdout(),
			})
		}

		sink := console.NewSink(cmd.OutOrStdout(), p.Name, photoDir)
		r, err := newRouter(cfg, sink, nil, log)
		if err != nil {
			return err
		}

		if message != "" {
			return r.Handle(ctx, channel.InboundMessage{Channel: "console", ChatID: console.ChatID, Text: message})
		}

		return runInteractive(ctx, cmd.InOrStdin(), r)
	},
}

func init() {
	chatCmd.Flags().StringVarP(&messageText, "message", "m", "", "message to send")
	chatCmd.Flags().BoolVar(&useTUI, "tui", false, "use the full-screen chat interface for interactive sessions")
	chatCmd.Flags().StringVar(&photoDir, "photos", "", "directory generated photos are written to (default: system temp dir)")
	rootCmd.AddCommand(chatCmd)
}

func resolveMessage(args []string) string {
	if value := strings.TrimSpace(messageText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// runInteractive feeds stdin lines to r until EOF, an exit command or ctx ends.
func runInteractive(ctx context.Context, in io.Reader, r *router.Router) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := func(ctx context.Context, msg channel.InboundMessage) {
		if isExitCommand(msg.Text) {
			cancel()
			return
		}
		_ = r.Handle(ctx, msg)
	}

	done := make(chan error, 1)
	go func() {
		done <- console.NewAdapter(in).Run(ctx, handler)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

// consoleSend numbers each typed message like the console adapter does.
func consoleSend(r *router.Router) chatui.SendFunc {
	var turns atomic.Int64
	return func(ctx context.Context, text string) error {
		return r.Handle(ctx, channel.InboundMessage{
			Channel:  "console",
			ChatID:   console.ChatID,
			SenderID: console.ChatID,
			Text:     text,
			UpdateID: strconv.FormatInt(turns.Add(1), 10),
		})
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
