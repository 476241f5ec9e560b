package telegram

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"
)

const photoFileName = "selfie.png"

// Bot API length limits in UTF-16 code units.
const (
	maxMessageLength = 4096
	maxCaptionLength = 1024
	ellipsis         = "…"
)

// Bot API flood limits: about 30 messages per second overall and one per
// second within a chat, with short bursts tolerated.
const (
	globalSendsPerSecond = 30
	chatSendBurst        = 3
)

// Sink sends replies through the Bot API sendMessage and sendPhoto methods.
type Sink struct {
	bot    *telego.Bot
	global *rate.Limiter

	mu    sync.Mutex
	chats map[string]*rate.Limiter
}

// NewSink wraps bot as a channel sink.
func NewSink(bot *telego.Bot) *Sink {
	return &Sink{
		bot:    bot,
		global: rate.NewLimiter(rate.Limit(globalSendsPerSecond), globalSendsPerSecond),
		chats:  make(map[string]*rate.Limiter),
	}
}

// wait blocks until both the global and the per-chat limiters allow a send.
func (s *Sink) wait(ctx context.Context, chatID string) error {
	s.mu.Lock()
	limiter, ok := s.chats[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Second), chatSendBurst)
		s.chats[chatID] = limiter
	}
	s.mu.Unlock()

	if err := s.global.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send throttled: %w", err)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send throttled: %w", err)
	}
	return nil
}

// SendText sends text, split into several messages when it is longer than
// the Bot API allows for one.
func (s *Sink) SendText(ctx context.Context, chatID string, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	for _, chunk := range splitMessage(text, maxMessageLength) {
		if err := s.wait(ctx, chatID); err != nil {
			return err
		}
		if _, err := s.bot.SendMessage(ctx, tu.Message(id, chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func (s *Sink) SendPhoto(ctx context.Context, chatID string, image []byte, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := s.wait(ctx, chatID); err != nil {
		return err
	}

	photo := tu.Photo(id, tu.File(tu.NameReader(bytes.NewReader(image), photoFileName)))
	if caption = strings.TrimSpace(caption); caption != "" {
		photo = photo.WithCaption(truncateText(caption, maxCaptionLength))
	}

	if _, err := s.bot.SendPhoto(ctx, photo); err != nil {
		return fmt.Errorf("send telegram photo: %w", err)
	}
	return nil
}

// utf16Len counts text the way the Bot API measures length limits.
func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

// prefixWithin returns the byte length of the longest prefix of text that
// fits in limit UTF-16 units without splitting a rune.
func prefixWithin(text string, limit int) int {
	units := 0
	for i, r := range text {
		units += utf16.RuneLen(r)
		if units > limit {
			return i
		}
	}
	return len(text)
}

// truncateText shortens text to limit units, ending it with an ellipsis.
func truncateText(text string, limit int) string {
	if utf16Len(text) <= limit {
		return text
	}
	return strings.TrimRight(text[:prefixWithin(text, limit-1)], " \n") + ellipsis
}

// splitMessage cuts text into chunks of at most limit units, preferring to
// break after a newline.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for utf16Len(text) > limit {
		cut := prefixWithin(text, limit)
		if newline := strings.LastIndexByte(text[:cut], '\n'); newline > 0 {
			cut = newline + 1
		}
		if chunk := strings.TrimRight(text[:cut], "\n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = text[cut:]
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// parseChatID accepts numeric chat ids and @channel usernames.
func parseChatID(chatID string) (telego.ChatID, error) {
	chatID = strings.TrimSpace(chatID)
	if strings.HasPrefix(chatID, "@") && len(chatID) > 1 {
		return tu.Username(chatID), nil
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return telego.ChatID{}, fmt.Errorf("invalid telegram chat id %q", chatID)
	}
	return tu.ID(id), nil
}
