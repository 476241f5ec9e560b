package channel

import (
	"context"
	"strings"
	"unicode/utf8"
)

const messagePreviewLimit = 240

// InboundMessage is one text message received from a transport. It is
// immutable and discarded once dispatch completes.
type InboundMessage struct {
	Channel  string
	ChatID   string
	SenderID string
	Text     string
	UpdateID string
}

// Sink delivers replies back to the originating chat. Delivery is
// fire-and-forget for the router: errors are logged, never retried.
type Sink interface {
	SendText(ctx context.Context, chatID string, text string) error
	SendPhoto(ctx context.Context, chatID string, image []byte, caption string) error
}

// Handler processes one inbound message.
type Handler func(context.Context, InboundMessage)

// Adapter pulls inbound messages from an external transport (for example
// Telegram long polling) and feeds them to a handler until ctx ends.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// Typer is implemented by adapters that can show a typing status in a chat.
// The status stays on until stop is called.
type Typer interface {
	StartTyping(ctx context.Context, chatID string) (stop func())
}

// PreviewText returns a bounded log-safe preview of message text. The cut
// falls on a rune boundary.
func PreviewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	runes := 0
	for i := range trimmed {
		if runes == messagePreviewLimit {
			return trimmed[:i] + "..."
		}
		runes++
	}
	return trimmed
}
