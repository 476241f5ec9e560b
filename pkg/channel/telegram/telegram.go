package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"lunarelay/pkg/channel"
	"lunarelay/pkg/config"
)

const channelName = "telegram"
const typingRefreshInterval = 4 * time.Second

// Adapter feeds Telegram long-polling updates into a channel handler.
type Adapter struct {
	bot         *telego.Bot
	allowFrom   AllowList
	typingEvery time.Duration
	log         *slog.Logger
}

// NewBot validates the Telegram token and builds a bot client.
func NewBot(cfg config.TelegramConfig) (*telego.Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("TELEGRAM_TOKEN is required")
	}

	var opts []telego.BotOption
	if apiServer := strings.TrimSpace(cfg.APIServer); apiServer != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimRight(apiServer, "/")))
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	return bot, nil
}

// NewAdapter constructs a long-polling adapter on top of bot.
func NewAdapter(bot *telego.Bot, cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	if bot == nil {
		return nil, errors.New("telegram bot is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		bot:         bot,
		allowFrom:   NewAllowList(cfg.AllowFrom),
		typingEvery: typingRefreshInterval,
		log:         log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts long polling and hands every text message to handler. The
// handler may return before the message is processed; typing is shown by the
// dispatcher through StartTyping.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram polling started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := InboundFromUpdate(update)
			if !ok {
				continue
			}
			if !a.allowFrom.Allows(inbound.SenderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", inbound.SenderID)
				continue
			}

			a.log.Info("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "content", channel.PreviewText(inbound.Text))
			handler(ctx, inbound)
		}
	}
}

// InboundFromUpdate extracts a text message from an update. Updates without a
// message, chat id or text are reported as not ok.
func InboundFromUpdate(update telego.Update) (channel.InboundMessage, bool) {
	message := update.Message
	if message == nil || message.Chat.ID == 0 {
		return channel.InboundMessage{}, false
	}
	if strings.TrimSpace(message.Text) == "" {
		return channel.InboundMessage{}, false
	}

	inbound := channel.InboundMessage{
		Channel:  channelName,
		ChatID:   strconv.FormatInt(message.Chat.ID, 10),
		Text:     message.Text,
		UpdateID: strconv.Itoa(update.UpdateID),
	}
	if message.From != nil {
		inbound.SenderID = strconv.FormatInt(message.From.ID, 10)
	}
	return inbound, true
}

// AllowList is the set of sender ids permitted by allow_from config.
type AllowList map[string]struct{}

// NewAllowList normalizes allow_from values into a lookup set. It returns nil
// when no usable value is configured.
func NewAllowList(allowFrom []string) AllowList {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(AllowList, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// Allows checks whether a sender is permitted.
//
// When no allow list is configured, all senders are accepted.
func (l AllowList) Allows(senderID string) bool {
	if len(l) == 0 {
		return true
	}

	_, ok := l[strings.TrimSpace(senderID)]
	return ok
}

// StartTyping sends a typing action to chatID and refreshes it until stop is
// called or ctx ends. Unknown chat ids get a no-op stop.
func (a *Adapter) StartTyping(ctx context.Context, chatID string) func() {
	id, err := parseChatID(chatID)
	if err != nil {
		return func() {}
	}

	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := a.bot.SendChatAction(typingCtx, tu.ChatAction(id, telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		ticker := time.NewTicker(a.typingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return func() {
		cancel()
		<-stopped
	}
}
