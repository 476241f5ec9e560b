package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lunarelay/pkg/channel"
	"lunarelay/pkg/channel/console"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/metrics"
	"lunarelay/pkg/persona"
)

type echoText struct{}

func (echoText) Complete(_ context.Context, _ *conversation.Session, _ persona.Persona, text string) (string, error) {
	return "echo: " + text, nil
}

type pngImage struct{}

func (pngImage) Generate(context.Context, string) ([]byte, error) {
	return []byte("png"), nil
}

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "exit", want: true},
		{input: " quit ", want: true},
		{input: ":q", want: true},
		{input: "EXIT", want: true},
		{input: "hello", want: false},
		{input: "quit now", want: false},
	}

	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Fatalf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestResolveMessage(t *testing.T) {
	original := messageText
	t.Cleanup(func() {
		messageText = original
	})

	messageText = " from-flag "
	if got := resolveMessage([]string{"from", "args"}); got != "from-flag" {
		t.Fatalf("resolveMessage with flag = %q, want %q", got, "from-flag")
	}

	messageText = ""
	if got := resolveMessage([]string{"hello", "world"}); got != "hello world" {
		t.Fatalf("resolveMessage with args = %q, want %q", got, "hello world")
	}

	if got := resolveMessage(nil); got != "" {
		t.Fatalf("resolveMessage without input = %q, want empty", got)
	}
}

func TestWebhookURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{base: "", path: "/webhook", want: ""},
		{base: "https://luna.example.com/", path: "/webhook", want: "https://luna.example.com/webhook"},
		{base: "https://luna.example.com", path: "hooks/tg", want: "https://luna.example.com/hooks/tg"},
		{base: "https://luna.example.com", path: "", want: "https://luna.example.com/webhook"},
	}

	for _, tt := range tests {
		if got := webhookURL(tt.base, tt.path); got != tt.want {
			t.Fatalf("webhookURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("loadDotEnv missing file error: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LUNARELAY_TEST_VALUE=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LUNARELAY_TEST_VALUE", "")
	os.Unsetenv("LUNARELAY_TEST_VALUE")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv error: %v", err)
	}
	if got := os.Getenv("LUNARELAY_TEST_VALUE"); got != "from-dotenv" {
		t.Fatalf("LUNARELAY_TEST_VALUE = %q, want from-dotenv", got)
	}
}

func TestClassifyCommand(t *testing.T) {
	tests := map[string][]string{
		"start\n":                  {"classify", "/start"},
		"image_prompt\ta castle\n": {"classify", "/image", "a", "castle"},
		"chat\thello there\n":      {"classify", "hello", "there"},
	}

	for want, args := range tests {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"--env-file", ""}, args...))

		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("classify %v error: %v", args, err)
		}
		if out.String() != want {
			t.Fatalf("classify %v output = %q, want %q", args, out.String(), want)
		}
	}
	rootCmd.SetOut(nil)
	rootCmd.SetArgs(nil)
}

func TestNewRouterRejectsMissingCredentials(t *testing.T) {
	cfg := config.Defaults()
	if _, err := newRouter(cfg, channel.NewRecorder(), nil, nil); err == nil {
		t.Fatal("expected error without provider credentials")
	}
}

func TestAssembleRouterTracksSessions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backends.Breaker.Enabled = true
	m := metrics.New()
	sink := channel.NewRecorder()

	r, err := assembleRouter(cfg, persona.Default(), echoText{}, pngImage{}, sink, m, nil)
	if err != nil {
		t.Fatalf("assembleRouter error: %v", err)
	}

	if err := r.Handle(context.Background(), channel.InboundMessage{ChatID: "1", Text: "hi"}); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if calls := sink.Calls(); len(calls) != 1 || calls[0].Text != "echo: hi" {
		t.Fatalf("sink calls = %+v", calls)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "lunarelay_conversation_sessions" {
			found = family.GetMetric()[0].GetGauge().GetValue() == 1
		}
	}
	if !found {
		t.Fatal("expected session gauge to report one session")
	}
}

func TestRunInteractiveStopsOnExit(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Defaults()
	p := persona.Default()

	r, err := assembleRouter(cfg, p, echoText{}, pngImage{}, newConsoleSinkForTest(&out, t.TempDir()), nil, nil)
	if err != nil {
		t.Fatalf("assembleRouter error: %v", err)
	}

	in := strings.NewReader("/start\nhello\nexit\nnever sent\n")
	if err := runInteractive(context.Background(), in, r); err != nil {
		t.Fatalf("runInteractive error: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, p.Greeting) || !strings.Contains(output, "echo: hello") {
		t.Fatalf("output = %q, want greeting and echo", output)
	}
	if strings.Contains(output, "never sent") {
		t.Fatalf("output = %q, want input after exit ignored", output)
	}
}

func newConsoleSinkForTest(out *bytes.Buffer, dir string) channel.Sink {
	return console.NewSink(out, "Luna", dir)
}

func TestConsoleSendRoutesThroughConsoleChat(t *testing.T) {
	sink := channel.NewRecorder()
	r, err := assembleRouter(config.Defaults(), persona.Default(), echoText{}, pngImage{}, sink, nil, nil)
	if err != nil {
		t.Fatalf("assembleRouter error: %v", err)
	}

	send := consoleSend(r)
	for _, text := range []string{"hi", "again"} {
		if err := send(context.Background(), text); err != nil {
			t.Fatalf("send(%q) error: %v", text, err)
		}
	}

	calls := sink.CallsFor(console.ChatID)
	if len(calls) != 2 || calls[0].Text != "echo: hi" || calls[1].Text != "echo: again" {
		t.Fatalf("console calls = %+v", calls)
	}
	if turns := r.Store().Len(); turns != 1 {
		t.Fatalf("sessions = %d, want 1", turns)
	}
}
