package router

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lunarelay/pkg/channel"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

type fakeText struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
	hook    func(ctx context.Context, session *conversation.Session)
}

func (f *fakeText) Complete(ctx context.Context, session *conversation.Session, _ persona.Persona, text string) (string, error) {
	if f.hook != nil {
		f.hook(ctx, session)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, text)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeText) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeImage struct {
	mu      sync.Mutex
	image   []byte
	err     error
	prompts []string
	hook    func(ctx context.Context)
}

func (f *fakeImage) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if f.hook != nil {
		f.hook(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.image, f.err
}

func (f *fakeImage) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type recordingObserver struct {
	mu       sync.Mutex
	intents  []string
	backends []string
	sinks    []string
}

func (o *recordingObserver) ObserveIntent(intent string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intents = append(o.intents, intent)
}

func (o *recordingObserver) ObserveBackend(backend string, ok bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	outcome := "absent"
	if ok {
		outcome = "ok"
	}
	o.backends = append(o.backends, backend+":"+outcome)
}

func (o *recordingObserver) ObserveSinkFailure(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, kind)
}

func newTestRouter(t *testing.T, text *fakeText, image *fakeImage, deps Deps) (*Router, *channel.Recorder) {
	t.Helper()

	sink := channel.NewRecorder()
	deps.Text = text
	deps.Image = image
	deps.Sink = sink
	if deps.Persona.Greeting == "" {
		deps.Persona = persona.Default()
	}

	r, err := New(deps)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return r, sink
}

func inbound(chatID string, text string) channel.InboundMessage {
	return channel.InboundMessage{Channel: "test", ChatID: chatID, Text: text}
}

func TestNewValidatesDeps(t *testing.T) {
	p := persona.Default()
	sink := channel.NewRecorder()

	tests := map[string]Deps{
		"missing text":     {Image: &fakeImage{}, Sink: sink, Persona: p},
		"missing image":    {Text: &fakeText{}, Sink: sink, Persona: p},
		"missing sink":     {Text: &fakeText{}, Image: &fakeImage{}, Persona: p},
		"missing greeting": {Text: &fakeText{}, Image: &fakeImage{}, Sink: sink},
	}
	for name, deps := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(deps); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestHandleStartSendsGreeting(t *testing.T) {
	text := &fakeText{replies: []string{"unused"}}
	image := &fakeImage{image: []byte("png")}
	r, sink := newTestRouter(t, text, image, Deps{})

	if err := r.Handle(context.Background(), inbound("42", "/start")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	calls := sink.Calls()
	if len(calls) != 1 {
		t.Fatalf("sink calls = %d, want 1", len(calls))
	}
	if calls[0].Kind != channel.CallText || calls[0].ChatID != "42" || calls[0].Text != persona.Default().Greeting {
		t.Fatalf("call = %+v, want greeting to 42", calls[0])
	}
	if len(text.calls()) != 0 || len(image.calls()) != 0 {
		t.Fatal("expected no backend calls for /start")
	}
}

func TestHandleSelfieSendsAckThenPhoto(t *testing.T) {
	text := &fakeText{replies: []string{"painting stars"}}
	image := &fakeImage{image: []byte("png-bytes")}
	r, sink := newTestRouter(t, text, image, Deps{})
	p := persona.Default()

	if err := r.Handle(context.Background(), inbound("42", "/selfie")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	calls := sink.Calls()
	if len(calls) != 2 {
		t.Fatalf("sink calls = %+v, want ack and photo", calls)
	}
	if calls[0].Kind != channel.CallText || calls[0].Text != p.Lines.SelfieAck {
		t.Fatalf("first call = %+v, want selfie ack", calls[0])
	}
	if calls[1].Kind != channel.CallPhoto || calls[1].ChatID != "42" || calls[1].Caption != "painting stars" || !bytes.Equal(calls[1].Image, []byte("png-bytes")) {
		t.Fatalf("second call = %+v, want photo with caption", calls[1])
	}

	if got := text.calls(); len(got) != 1 || got[0] != p.Lines.CaptionInstruction {
		t.Fatalf("text prompts = %q, want caption instruction", got)
	}
	want := "photograph, selfie of a beautiful woman, painting stars, detailed face, soft natural lighting, cinematic"
	if got := image.calls(); len(got) != 1 || got[0] != want {
		t.Fatalf("image prompts = %q, want %q", got, want)
	}
}

func TestHandleSelfieImageFailureSendsFallback(t *testing.T) {
	text := &fakeText{replies: []string{"painting stars"}}
	image := &fakeImage{err: errors.New("gpu on fire")}
	r, sink := newTestRouter(t, text, image, Deps{})
	p := persona.Default()

	if err := r.Handle(context.Background(), inbound("42", "send a selfie")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	calls := sink.Calls()
	if len(calls) != 2 {
		t.Fatalf("sink calls = %+v, want ack and fallback", calls)
	}
	if calls[0].Text != p.Lines.SelfieAck || calls[1].Text != p.Lines.ImageFailure {
		t.Fatalf("calls = %+v, want ack then image failure line", calls)
	}
	for _, call := range calls {
		if call.Kind == channel.CallPhoto {
			t.Fatal("photo must not be sent when image generation fails")
		}
	}
}

func TestHandleSelfieEmptyImageIsFailure(t *testing.T) {
	text := &fakeText{replies: []string{"painting stars"}}
	image := &fakeImage{image: []byte{}}
	r, sink := newTestRouter(t, text, image, Deps{})

	_ = r.Handle(context.Background(), inbound("42", "/selfie"))

	calls := sink.Calls()
	if len(calls) != 2 || calls[1].Text != persona.Default().Lines.ImageFailure {
		t.Fatalf("calls = %+v, want image failure fallback", calls)
	}
}

func TestHandleSelfieCaptionFailureSkipsImage(t *testing.T) {
	text := &fakeText{err: errors.New("model overloaded")}
	image := &fakeImage{image: []byte("png")}
	r, sink := newTestRouter(t, text, image, Deps{})
	p := persona.Default()

	_ = r.Handle(context.Background(), inbound("42", "/selfie"))

	calls := sink.Calls()
	if len(calls) != 2 || calls[0].Text != p.Lines.SelfieAck || calls[1].Text != p.Lines.CaptionFailure {
		t.Fatalf("calls = %+v, want ack then caption failure line", calls)
	}
	if len(image.calls()) != 0 {
		t.Fatal("image backend must not be called without a caption")
	}
}

func TestHandleImageWithoutArgumentSendsUsage(t *testing.T) {
	text := &fakeText{replies: []string{"unused"}}
	image := &fakeImage{image: []byte("png")}
	r, sink := newTestRouter(t, text, image, Deps{})

	_ = r.Handle(context.Background(), inbound("42", "/image"))

	calls := sink.Calls()
	if len(calls) != 1 || calls[0].Text != persona.Default().Lines.ImageUsage {
		t.Fatalf("calls = %+v, want single usage hint", calls)
	}
	if len(text.calls()) != 0 || len(image.calls()) != 0 {
		t.Fatal("expected no backend calls for /image without argument")
	}
}

func TestHandleImagePromptUsesRawPrompt(t *testing.T) {
	text := &fakeText{}
	image := &fakeImage{image: []byte("png")}
	r, sink := newTestRouter(t, text, image, Deps{})

	_ = r.Handle(context.Background(), inbound("42", "/image a castle in the clouds"))

	calls := sink.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v, want ack and photo", calls)
	}
	if calls[0].Text != persona.Default().ImageAck("a castle in the clouds") {
		t.Fatalf("ack = %q", calls[0].Text)
	}
	if calls[1].Kind != channel.CallPhoto || calls[1].Caption != "a castle in the clouds" {
		t.Fatalf("photo call = %+v", calls[1])
	}
	if got := image.calls(); len(got) != 1 || got[0] != "a castle in the clouds" {
		t.Fatalf("image prompts = %q, want untemplated prompt", got)
	}
	if len(text.calls()) != 0 {
		t.Fatal("image prompt must not call the text backend")
	}
}

func TestHandleImagePromptFailure(t *testing.T) {
	r, sink := newTestRouter(t, &fakeText{}, &fakeImage{err: errors.New("boom")}, Deps{})

	_ = r.Handle(context.Background(), inbound("42", "/image a fox"))

	calls := sink.Calls()
	if len(calls) != 2 || calls[1].Text != persona.Default().Lines.ImageFailure {
		t.Fatalf("calls = %+v, want image failure fallback", calls)
	}
}

func TestHandleChatRelaysReply(t *testing.T) {
	text := &fakeText{replies: []string{"  hi love  "}}
	r, sink := newTestRouter(t, text, &fakeImage{}, Deps{})

	_ = r.Handle(context.Background(), inbound("7", "hello there"))

	calls := sink.Calls()
	if len(calls) != 1 || calls[0].Text != "hi love" || calls[0].ChatID != "7" {
		t.Fatalf("calls = %+v, want relayed reply", calls)
	}
	if got := text.calls(); len(got) != 1 || got[0] != "hello there" {
		t.Fatalf("text prompts = %q", got)
	}
	if r.Store().Len() != 1 {
		t.Fatalf("store len = %d, want 1", r.Store().Len())
	}
}

func TestHandleChatFailureSendsFallback(t *testing.T) {
	tests := map[string]*fakeText{
		"error": {err: errors.New("503")},
		"empty": {replies: []string{"   "}},
	}

	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			r, sink := newTestRouter(t, text, &fakeImage{}, Deps{})

			if err := r.Handle(context.Background(), inbound("7", "hello")); err != nil {
				t.Fatalf("Handle error: %v", err)
			}

			calls := sink.Calls()
			if len(calls) != 1 || calls[0].Text != persona.Default().Lines.ChatFailure {
				t.Fatalf("calls = %+v, want chat failure line", calls)
			}
		})
	}
}

func TestHandleTimeoutIsFailure(t *testing.T) {
	text := &fakeText{
		replies: []string{"too late"},
		hook: func(ctx context.Context, _ *conversation.Session) {
			<-ctx.Done()
		},
	}
	slow := &timeoutText{inner: text}
	sink := channel.NewRecorder()
	r, err := New(Deps{Text: slow, Image: &fakeImage{}, Sink: sink, Persona: persona.Default(), Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_ = r.Handle(context.Background(), inbound("7", "hello"))

	calls := sink.Calls()
	if len(calls) != 1 || calls[0].Text != persona.Default().Lines.ChatFailure {
		t.Fatalf("calls = %+v, want chat failure after timeout", calls)
	}
}

// timeoutText reports the context error once the wrapped hook returns.
type timeoutText struct {
	inner *fakeText
}

func (t *timeoutText) Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error) {
	reply, err := t.inner.Complete(ctx, session, p, text)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return reply, err
}

func TestHandleIgnoresCallerCancellation(t *testing.T) {
	text := &fakeText{replies: []string{"still here"}}
	r, sink := newTestRouter(t, text, &fakeImage{}, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = r.Handle(ctx, inbound("7", "hello"))

	calls := sink.Calls()
	if len(calls) != 1 || calls[0].Text != "still here" {
		t.Fatalf("calls = %+v, want reply despite canceled caller", calls)
	}
}

func TestHandleReplayProducesIndependentSequences(t *testing.T) {
	text := &fakeText{replies: []string{"painting stars"}}
	image := &fakeImage{image: []byte("png")}
	r, sink := newTestRouter(t, text, image, Deps{})

	msg := inbound("42", "/selfie")
	_ = r.Handle(context.Background(), msg)
	_ = r.Handle(context.Background(), msg)

	calls := sink.Calls()
	if len(calls) != 4 {
		t.Fatalf("sink calls = %d, want 4", len(calls))
	}
	if calls[0].Kind != channel.CallText || calls[1].Kind != channel.CallPhoto || calls[2].Kind != channel.CallText || calls[3].Kind != channel.CallPhoto {
		t.Fatalf("calls = %+v, want two ack/photo sequences", calls)
	}
	if len(image.calls()) != 2 {
		t.Fatalf("image calls = %d, want 2", len(image.calls()))
	}
}

func TestHandleRecoversPanicAsFault(t *testing.T) {
	text := &fakeText{hook: func(context.Context, *conversation.Session) { panic("backend exploded") }}
	r, sink := newTestRouter(t, text, &fakeImage{}, Deps{})

	err := r.Handle(context.Background(), channel.InboundMessage{ChatID: "7", Text: "hello", UpdateID: "9"})

	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error = %v, want *Fault", err)
	}
	if fault.ChatID != "7" || fault.UpdateID != "9" || fault.Value != "backend exploded" {
		t.Fatalf("fault = %+v", fault)
	}
	if len(fault.Stack) == 0 {
		t.Fatal("expected stack trace on fault")
	}
	if calls := sink.Calls(); len(calls) != 0 {
		t.Fatalf("sink calls = %+v, want none after fault", calls)
	}

	// The session lock is released even when the turn panics.
	text.hook = nil
	text.replies = []string{"recovered"}
	_ = r.Handle(context.Background(), inbound("7", "again"))
	if calls := sink.Calls(); len(calls) != 1 || calls[0].Text != "recovered" {
		t.Fatalf("calls = %+v, want reply after recovered fault", calls)
	}
}

func TestHandleRejectsMissingChatID(t *testing.T) {
	r, sink := newTestRouter(t, &fakeText{}, &fakeImage{}, Deps{})

	if err := r.Handle(context.Background(), inbound(" ", "/start")); err == nil {
		t.Fatal("expected error for missing chat id")
	}
	if len(sink.Calls()) != 0 {
		t.Fatal("expected no sink calls without chat id")
	}
}

func TestSinkFailureIsObservedNotFatal(t *testing.T) {
	observer := &recordingObserver{}
	text := &fakeText{replies: []string{"painting stars"}}
	r, sink := newTestRouter(t, text, &fakeImage{image: []byte("png")}, Deps{Observer: observer})
	sink.FailWith(errors.New("telegram down"))

	if err := r.Handle(context.Background(), inbound("42", "/selfie")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	if len(sink.Calls()) != 2 {
		t.Fatalf("sink calls = %d, want dispatch to continue after failed ack", len(sink.Calls()))
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.sinks) != 2 || observer.sinks[0] != "text" || observer.sinks[1] != "photo" {
		t.Fatalf("sink failures = %q", observer.sinks)
	}
	if len(observer.intents) != 1 || observer.intents[0] != "selfie" {
		t.Fatalf("intents = %q", observer.intents)
	}
	if len(observer.backends) != 2 || observer.backends[0] != "text:ok" || observer.backends[1] != "image:ok" {
		t.Fatalf("backends = %q", observer.backends)
	}
}

func TestConcurrentChatsSerializePerChat(t *testing.T) {
	var (
		mu        sync.Mutex
		active    = map[*conversation.Session]int{}
		maxActive int
	)

	text := &fakeText{
		replies: []string{"ok"},
		hook: func(_ context.Context, session *conversation.Session) {
			mu.Lock()
			active[session]++
			if active[session] > maxActive {
				maxActive = active[session]
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)
			session.Update(session.Turns())

			mu.Lock()
			active[session]--
			mu.Unlock()
		},
	}
	r, sink := newTestRouter(t, text, &fakeImage{}, Deps{})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Handle(context.Background(), inbound("42", "hello"))
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent turns for one chat = %d, want 1", maxActive)
	}
	if got := len(sink.CallsFor("42")); got != 10 {
		t.Fatalf("replies = %d, want 10", got)
	}

	session, release := r.Store().Acquire("42")
	defer release()
	if session.Turns() != 10 {
		t.Fatalf("session turns = %d, want 10", session.Turns())
	}
}

func TestDistinctChatsDoNotBlockEachOther(t *testing.T) {
	bEntered := make(chan struct{})
	var aSawB atomic.Bool

	text := &fakeText{
		replies: []string{"ok"},
		hook: func(_ context.Context, session *conversation.Session) {
			switch session.ChatID() {
			case "a":
				select {
				case <-bEntered:
					aSawB.Store(true)
				case <-time.After(2 * time.Second):
				}
			case "b":
				close(bEntered)
			}
		},
	}
	r, sink := newTestRouter(t, text, &fakeImage{}, Deps{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Handle(context.Background(), inbound("a", "hello"))
	}()

	time.Sleep(10 * time.Millisecond)
	_ = r.Handle(context.Background(), inbound("b", "hello"))

	<-done
	if !aSawB.Load() {
		t.Fatal("chat b did not reach the backend while chat a was in flight")
	}

	if len(sink.CallsFor("a")) != 1 || len(sink.CallsFor("b")) != 1 {
		t.Fatalf("calls = %+v", sink.Calls())
	}
}

func TestHandlerDiscardsFaults(t *testing.T) {
	text := &fakeText{hook: func(context.Context, *conversation.Session) { panic("boom") }}
	r, _ := newTestRouter(t, text, &fakeImage{}, Deps{})

	r.Handler()(context.Background(), inbound("1", "hello"))
}
