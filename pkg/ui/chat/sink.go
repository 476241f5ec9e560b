package chat

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lunarelay/pkg/channel/console"
)

const replyBuffer = 16

var errClosed = errors.New("chat ui closed")

type replyMsg struct {
	text string
}

type photoMsg struct {
	path    string
	caption string
}

// Sink forwards router replies into the running chat UI. Photos are saved
// to disk and shown as a path card.
type Sink struct {
	replies  chan tea.Msg
	done     chan struct{}
	once     sync.Once
	photoDir string
	now      func() time.Time
}

func NewSink(photoDir string) *Sink {
	if strings.TrimSpace(photoDir) == "" {
		photoDir = os.TempDir()
	}

	return &Sink{
		replies:  make(chan tea.Msg, replyBuffer),
		done:     make(chan struct{}),
		photoDir: photoDir,
		now:      time.Now,
	}
}

func (s *Sink) SendText(ctx context.Context, _ string, text string) error {
	return s.push(ctx, replyMsg{text: text})
}

func (s *Sink) SendPhoto(ctx context.Context, chatID string, image []byte, caption string) error {
	path, err := console.SavePhoto(s.photoDir, chatID, image, s.now())
	if err != nil {
		return err
	}
	return s.push(ctx, photoMsg{path: path, caption: strings.TrimSpace(caption)})
}

// Close unblocks pending deliveries once the UI has exited.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Sink) push(ctx context.Context, msg tea.Msg) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}

	select {
	case s.replies <- msg:
		return nil
	case <-s.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForReply blocks until the next reply is delivered or the sink closes.
func waitForReply(s *Sink) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-s.replies:
			return msg
		case <-s.done:
			return nil
		}
	}
}
