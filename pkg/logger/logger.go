// Package logger builds the process slog.Logger on top of charmbracelet/log.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"lunarelay/pkg/config"
)

const redacted = "[redacted]"

// sensitiveKeys are attribute keys whose values never reach the log output.
var sensitiveKeys = map[string]struct{}{
	"token":          {},
	"api_key":        {},
	"authorization":  {},
	"secret":         {},
	"password":       {},
	"webhook_secret": {},
}

var formatters = map[string]charmLog.Formatter{
	"text":   charmLog.TextFormatter,
	"json":   charmLog.JSONFormatter,
	"logfmt": charmLog.LogfmtFormatter,
}

// New builds the process logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "text"
	}
	formatter, ok := formatters[format]
	if !ok {
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	handler := charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           level,
		ReportTimestamp: true,
		ReportCaller:    cfg.AddSource,
		Formatter:       formatter,
	})
	return slog.New(&redactingHandler{next: handler}), nil
}

func parseLevel(input string) (charmLog.Level, error) {
	text := strings.ToLower(strings.TrimSpace(input))
	switch text {
	case "":
		return charmLog.InfoLevel, nil
	case "warning":
		text = "warn"
	case "fatal":
		return 0, fmt.Errorf("unsupported log level %q", text)
	}

	level, err := charmLog.ParseLevel(text)
	if err != nil {
		return 0, fmt.Errorf("unsupported log level %q", text)
	}
	return level, nil
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// redactAttr replaces credential values, descends into groups and flattens
// errors to their message.
func redactAttr(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()
	if isSensitive(attr.Key) {
		return slog.String(attr.Key, redacted)
	}

	switch attr.Value.Kind() {
	case slog.KindGroup:
		group := attr.Value.Group()
		clean := make([]slog.Attr, 0, len(group))
		for _, item := range group {
			clean = append(clean, redactAttr(item))
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(clean...)}
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok {
			return slog.String(attr.Key, err.Error())
		}
	}
	return attr
}

type redactingHandler struct {
	next slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		clean = append(clean, redactAttr(attr))
	}
	return &redactingHandler{next: h.next.WithAttrs(clean)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}
