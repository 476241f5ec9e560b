package groq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

type fakeCompleter struct {
	requests []openai.ChatCompletionRequest
	reply    string
	err      error
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	if f.reply == "" {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}}},
	}, nil
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(config.Defaults()); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestCompleteAgainstCompatibleEndpoint(t *testing.T) {
	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gsk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi love"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(server.Close)

	cfg := config.Defaults()
	cfg.Backends.Groq.APIKey = "gsk-test"
	cfg.Backends.Groq.BaseURL = server.URL + "/openai/v1/"
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	reply, err := client.Complete(context.Background(), nil, persona.Default(), "hello")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if reply != "hi love" {
		t.Fatalf("reply = %q, want %q", reply, "hi love")
	}
	if got.Model != defaultModel {
		t.Fatalf("model = %q, want %q", got.Model, defaultModel)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("messages = %#v", got.Messages)
	}
}

func TestCompleteAppendsHistory(t *testing.T) {
	fake := &fakeCompleter{reply: "second reply"}
	client := &Client{client: fake, model: defaultModel}

	store := conversation.NewStore()
	session, release := store.Acquire("42")
	defer release()
	session.Update(conversation.NewHistory(0).Append("user", "first").Append("assistant", "first reply"))

	if _, err := client.Complete(context.Background(), session, persona.Default(), "second"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	msgs := fake.requests[0].Messages
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[1].Content != "first" || msgs[2].Content != "first reply" || msgs[3].Content != "second" {
		t.Fatalf("messages = %#v", msgs)
	}
	if got := conversation.HistoryFrom(session, 0).Len(); got != 4 {
		t.Fatalf("history length = %d, want 4", got)
	}
}

func TestCompleteEmptyChoicesIsNoOutput(t *testing.T) {
	client := &Client{client: &fakeCompleter{}, model: defaultModel}

	_, err := client.Complete(context.Background(), nil, persona.Default(), "hello")
	if !errors.Is(err, backendtypes.ErrNoOutput) {
		t.Fatalf("error = %v, want ErrNoOutput", err)
	}
}

func TestCompleteProviderError(t *testing.T) {
	client := &Client{client: &fakeCompleter{err: errors.New("rate limited")}, model: defaultModel}

	if _, err := client.Complete(context.Background(), nil, persona.Default(), "hello"); err == nil {
		t.Fatal("expected provider error")
	}
}
