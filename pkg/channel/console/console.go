// Package console runs the relay against a terminal: lines from a reader are
// inbound messages and replies are printed to a writer.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lunarelay/pkg/channel"
)

const (
	channelName = "console"
	// ChatID is the single conversation a console session talks in.
	ChatID = "console"
)

// Sink prints replies prefixed with the speaker name and stores photos on disk.
type Sink struct {
	mu       sync.Mutex
	out      io.Writer
	speaker  string
	photoDir string
	now      func() time.Time
}

// NewSink writes replies to out. Photos land in photoDir, or the system temp
// directory when photoDir is empty.
func NewSink(out io.Writer, speaker string, photoDir string) *Sink {
	if strings.TrimSpace(photoDir) == "" {
		photoDir = os.TempDir()
	}

	return &Sink{
		out:      out,
		speaker:  strings.TrimSpace(speaker),
		photoDir: photoDir,
		now:      time.Now,
	}
}

func (s *Sink) SendText(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := fmt.Fprintf(s.out, "%s: %s\n", s.speakerName(), text)
	return err
}

func (s *Sink) SendPhoto(_ context.Context, chatID string, image []byte, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := SavePhoto(s.photoDir, chatID, image, s.now())
	if err != nil {
		return err
	}

	line := fmt.Sprintf("%s: [photo saved to %s]", s.speakerName(), path)
	if caption = strings.TrimSpace(caption); caption != "" {
		line += " " + caption
	}
	_, err = fmt.Fprintln(s.out, line)
	return err
}

// SavePhoto writes image into dir under a name derived from chatID and at and
// returns the file path.
func SavePhoto(dir string, chatID string, image []byte, at time.Time) (string, error) {
	if len(image) == 0 {
		return "", errors.New("photo is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create photo directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.png", chatID, at.UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	return path, nil
}

func (s *Sink) speakerName() string {
	if s.speaker == "" {
		return "bot"
	}
	return s.speaker
}

// Adapter reads one message per line until EOF or context cancellation.
type Adapter struct {
	in io.Reader
}

func NewAdapter(in io.Reader) *Adapter {
	return &Adapter{in: in}
}

func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	scanner := bufio.NewScanner(a.in)
	lines := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines++

		handler(ctx, channel.InboundMessage{
			Channel:  channelName,
			ChatID:   ChatID,
			SenderID: ChatID,
			Text:     text,
			UpdateID: fmt.Sprintf("%d", lines),
		})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read console input: %w", err)
	}
	return nil
}
