package channel

import (
	"context"
	"sync"
)

// CallKind distinguishes recorded sink operations.
type CallKind string

const (
	CallText  CallKind = "text"
	CallPhoto CallKind = "photo"
)

// Call is one recorded sink operation.
type Call struct {
	Kind    CallKind
	ChatID  string
	Text    string
	Image   []byte
	Caption string
}

// Recorder is an in-memory Sink that records every call in order.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	err   error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent sends record the call and then return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) SendText(_ context.Context, chatID string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Kind: CallText, ChatID: chatID, Text: text})
	return r.err
}

func (r *Recorder) SendPhoto(_ context.Context, chatID string, image []byte, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := append([]byte(nil), image...)
	r.calls = append(r.calls, Call{Kind: CallPhoto, ChatID: chatID, Image: copied, Caption: caption})
	return r.err
}

// Calls returns a copy of the recorded calls, oldest first.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor returns the recorded calls addressed to chatID.
func (r *Recorder) CallsFor(chatID string) []Call {
	var out []Call
	for _, call := range r.Calls() {
		if call.ChatID == chatID {
			out = append(out, call)
		}
	}
	return out
}

// Reset drops all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
