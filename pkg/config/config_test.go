package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	unsetCredentialEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "persona": {"name": "Nova"},
	  "backends": {"text": "openai", "image": "getimg", "request_timeout_seconds": 30},
	  "gateway": {"host": "127.0.0.1", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("LUNA_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Persona.Name != "Nova" {
		t.Fatalf("persona.name = %q, want %q", cfg.Persona.Name, "Nova")
	}
	if cfg.Backends.Text != "openai" || cfg.Backends.Image != "getimg" {
		t.Fatalf("backends = %q/%q, want openai/getimg", cfg.Backends.Text, cfg.Backends.Image)
	}
	if cfg.Backends.RequestTimeoutSeconds != 30 {
		t.Fatalf("request_timeout_seconds = %d, want 30", cfg.Backends.RequestTimeoutSeconds)
	}
	if cfg.Gateway.WebhookPath != "/webhook" {
		t.Fatalf("gateway.webhook_path = %q, want default /webhook", cfg.Gateway.WebhookPath)
	}
	if cfg.Gateway.PollWorkers != 4 || cfg.Gateway.QueueSize != 100 {
		t.Fatalf("gateway poll settings = %d/%d, want defaults 4/100", cfg.Gateway.PollWorkers, cfg.Gateway.QueueSize)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	unsetCredentialEnv(t)
	t.Setenv("LUNA_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Backends.Text != "huggingface" || cfg.Backends.Image != "huggingface" {
		t.Fatalf("backends = %q/%q, want huggingface/huggingface", cfg.Backends.Text, cfg.Backends.Image)
	}
	if cfg.Backends.RequestTimeoutSeconds != 120 {
		t.Fatalf("request_timeout_seconds = %d, want 120", cfg.Backends.RequestTimeoutSeconds)
	}
	if cfg.Gateway.Port != 8080 {
		t.Fatalf("gateway.port = %d, want 8080", cfg.Gateway.Port)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("LUNA_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	unsetCredentialEnv(t)
	t.Setenv("LUNA_CONFIG", "")
	t.Chdir(t.TempDir())

	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ALLOW_FROM", " 1, ,2 ")
	t.Setenv("HUGGINGFACE_API_KEY", "hf-test")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "demo-project")
	t.Setenv("PORT", "9090")
	t.Setenv("LUNA_LOG_FORMAT", "logfmt")
	t.Setenv("LUNA_LOG_ADD_SOURCE", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Fatalf("telegram.token = %q, want %q", cfg.Channels.Telegram.Token, "123:abc")
	}
	if got := cfg.Channels.Telegram.AllowFrom; len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("telegram.allow_from = %#v, want [1 2]", got)
	}
	if cfg.Backends.HuggingFace.APIKey != "hf-test" {
		t.Fatalf("huggingface api key = %q, want %q", cfg.Backends.HuggingFace.APIKey, "hf-test")
	}
	if cfg.Backends.Vertex.Project != "demo-project" {
		t.Fatalf("vertex.project = %q, want %q", cfg.Backends.Vertex.Project, "demo-project")
	}
	if cfg.Gateway.Port != 9090 {
		t.Fatalf("gateway.port = %d, want 9090", cfg.Gateway.Port)
	}
	if cfg.Logging.Format != "logfmt" || !cfg.Logging.AddSource {
		t.Fatalf("logging = %+v, want logfmt with source", cfg.Logging)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Backends.Text = "carrier-pigeon"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown text provider")
	}
}

func TestValidateRejectsBadWebhookPath(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.WebhookPath = "webhook"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for webhook path without leading slash")
	}
}

func unsetCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_TOKEN", "TELEGRAM_WEBHOOK_SECRET", "TELEGRAM_ALLOW_FROM",
		"HUGGINGFACE_API_KEY", "OPENAI_API_KEY", "GROQ_API_KEY", "GETIMG_API_KEY",
		"GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION", "OPENCODE_BASE_URL", "PORT",
		"LUNA_LOG_FORMAT", "LUNA_LOG_LEVEL", "LUNA_LOG_ADD_SOURCE",
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
