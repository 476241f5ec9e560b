// Package router turns one inbound chat message into backend calls and replies.
//
// Handle classifies the text, sends an acknowledgment before every slow call,
// and converts every backend failure into the persona's fallback sentence.
// Only panics escape as a *Fault, and callers still treat the delivery as
// handled.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"lunarelay/pkg/backend"
	"lunarelay/pkg/channel"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/intent"
	"lunarelay/pkg/persona"
)

const defaultTimeout = 120 * time.Second

// Observer receives dispatch telemetry. metrics.Metrics implements it.
type Observer interface {
	ObserveIntent(intent string)
	ObserveBackend(backend string, ok bool, elapsed time.Duration)
	ObserveSinkFailure(kind string)
}

// Deps are the collaborators a Router dispatches to.
type Deps struct {
	Text    backend.TextBackend
	Image   backend.ImageBackend
	Sink    channel.Sink
	Store   *conversation.Store
	Persona persona.Persona
	// Timeout bounds each backend call. Zero means 120s.
	Timeout  time.Duration
	Observer Observer
	Log      *slog.Logger
}

type Router struct {
	text     backend.TextBackend
	image    backend.ImageBackend
	sink     channel.Sink
	store    *conversation.Store
	persona  persona.Persona
	timeout  time.Duration
	observer Observer
	log      *slog.Logger
}

// Fault is an unexpected internal failure recovered while handling one message.
type Fault struct {
	ChatID   string
	UpdateID string
	Value    any
	Stack    []byte
}

func (f *Fault) Error() string {
	return fmt.Sprintf("handle message for chat %s: panic: %v", f.ChatID, f.Value)
}

// New validates deps and builds a Router.
func New(deps Deps) (*Router, error) {
	if deps.Text == nil {
		return nil, errors.New("text backend is required")
	}
	if deps.Image == nil {
		return nil, errors.New("image backend is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if strings.TrimSpace(deps.Persona.Greeting) == "" {
		return nil, errors.New("persona greeting is required")
	}

	store := deps.Store
	if store == nil {
		store = conversation.NewStore()
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		text:     deps.Text,
		image:    deps.Image,
		sink:     deps.Sink,
		store:    store,
		persona:  deps.Persona,
		timeout:  timeout,
		observer: observer,
		log:      log.With("component", "router"),
	}, nil
}

// Store returns the conversation store the router keeps sessions in.
func (r *Router) Store() *conversation.Store {
	return r.store
}

// Handle dispatches one inbound message to completion.
//
// Once accepted a message runs until its backend calls finish or time out,
// so cancellation of ctx is not propagated to backends or sinks.
func (r *Router) Handle(ctx context.Context, msg channel.InboundMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			fault := &Fault{ChatID: msg.ChatID, UpdateID: msg.UpdateID, Value: recovered, Stack: debug.Stack()}
			r.log.Error("Recovered panic while handling message", "chat_id", msg.ChatID, "update_id", msg.UpdateID, "panic", fmt.Sprint(recovered), "stack", string(fault.Stack))
			err = fault
		}
	}()

	if strings.TrimSpace(msg.ChatID) == "" {
		return errors.New("chat id is required")
	}

	ctx = context.WithoutCancel(ctx)
	classified := intent.Classify(msg.Text)
	r.observer.ObserveIntent(classified.Kind.String())
	r.log.Debug("Dispatching message", "chat_id", msg.ChatID, "intent", classified.Kind.String(), "content", channel.PreviewText(msg.Text))

	switch classified.Kind {
	case intent.Start:
		r.sendText(ctx, msg.ChatID, r.persona.Greeting)
	case intent.Selfie:
		r.handleSelfie(ctx, msg.ChatID)
	case intent.ImagePrompt:
		r.handleImagePrompt(ctx, msg.ChatID, classified.Payload)
	case intent.MissingImageArgument:
		r.sendText(ctx, msg.ChatID, r.persona.Lines.ImageUsage)
	default:
		r.handleChat(ctx, msg.ChatID, classified.Payload)
	}

	return nil
}

// Handler adapts Handle to a channel handler. Faults are already logged by Handle.
func (r *Router) Handler() channel.Handler {
	return func(ctx context.Context, msg channel.InboundMessage) {
		_ = r.Handle(ctx, msg)
	}
}

func (r *Router) handleSelfie(ctx context.Context, chatID string) {
	r.sendText(ctx, chatID, r.persona.Lines.SelfieAck)

	caption, ok := r.complete(ctx, chatID, r.persona.Lines.CaptionInstruction)
	if !ok {
		r.sendText(ctx, chatID, r.persona.Lines.CaptionFailure)
		return
	}

	image, ok := r.generate(ctx, r.persona.SelfiePrompt(caption))
	if !ok {
		r.sendText(ctx, chatID, r.persona.Lines.ImageFailure)
		return
	}

	r.sendPhoto(ctx, chatID, image, caption)
}

func (r *Router) handleImagePrompt(ctx context.Context, chatID string, prompt string) {
	r.sendText(ctx, chatID, r.persona.ImageAck(prompt))

	image, ok := r.generate(ctx, prompt)
	if !ok {
		r.sendText(ctx, chatID, r.persona.Lines.ImageFailure)
		return
	}

	r.sendPhoto(ctx, chatID, image, prompt)
}

func (r *Router) handleChat(ctx context.Context, chatID string, text string) {
	reply, ok := r.complete(ctx, chatID, text)
	if !ok {
		r.sendText(ctx, chatID, r.persona.Lines.ChatFailure)
		return
	}

	r.sendText(ctx, chatID, reply)
}

// complete runs one text turn while holding the chat's session exclusively.
func (r *Router) complete(ctx context.Context, chatID string, text string) (string, bool) {
	session, release := r.store.Acquire(chatID)
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	startedAt := time.Now()
	reply, err := r.text.Complete(callCtx, session, r.persona, text)
	reply = strings.TrimSpace(reply)
	ok := err == nil && reply != ""
	r.observer.ObserveBackend("text", ok, time.Since(startedAt))

	if !ok {
		r.log.Warn("Text backend returned no reply", "chat_id", chatID, "duration_ms", time.Since(startedAt).Milliseconds(), "error", errOrNoOutput(err))
		return "", false
	}
	return reply, true
}

func (r *Router) generate(ctx context.Context, prompt string) ([]byte, bool) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	startedAt := time.Now()
	image, err := r.image.Generate(callCtx, prompt)
	ok := err == nil && len(image) > 0
	r.observer.ObserveBackend("image", ok, time.Since(startedAt))

	if !ok {
		r.log.Warn("Image backend returned no image", "prompt", channel.PreviewText(prompt), "duration_ms", time.Since(startedAt).Milliseconds(), "error", errOrNoOutput(err))
		return nil, false
	}
	return image, true
}

func (r *Router) sendText(ctx context.Context, chatID string, text string) {
	if err := r.sink.SendText(ctx, chatID, text); err != nil {
		r.observer.ObserveSinkFailure("text")
		r.log.Warn("Failed to send text reply", "chat_id", chatID, "error", err)
	}
}

func (r *Router) sendPhoto(ctx context.Context, chatID string, image []byte, caption string) {
	if err := r.sink.SendPhoto(ctx, chatID, image, caption); err != nil {
		r.observer.ObserveSinkFailure("photo")
		r.log.Warn("Failed to send photo reply", "chat_id", chatID, "bytes", len(image), "error", err)
	}
}

func errOrNoOutput(err error) error {
	if err == nil {
		return backend.ErrNoOutput
	}
	return err
}

type nopObserver struct{}

func (nopObserver) ObserveIntent(string)                       {}
func (nopObserver) ObserveBackend(string, bool, time.Duration) {}
func (nopObserver) ObserveSinkFailure(string)                  {}
