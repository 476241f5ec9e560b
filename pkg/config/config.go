package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
)

const (
	envConfigPath = "LUNA_CONFIG"

	defaultRequestTimeoutSeconds = 120
	defaultGatewayHost           = "0.0.0.0"
	defaultGatewayPort           = 8080
	defaultWebhookPath           = "/webhook"
	defaultPollWorkers           = 4
	defaultQueueSize             = 100
)

// Config is the root runtime configuration loaded from config.json and the environment.
type Config struct {
	Persona  PersonaConfig  `json:"persona"`
	Backends BackendsConfig `json:"backends"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" env:"LUNA_LOG_FORMAT" validate:"omitempty,oneof=text json logfmt"`
	Level     string `json:"level,omitempty" env:"LUNA_LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	AddSource bool   `json:"add_source,omitempty" env:"LUNA_LOG_ADD_SOURCE"`
}

// PersonaConfig overrides fields of the embedded default persona.
//
// Empty fields keep the embedded default.
type PersonaConfig struct {
	Template         string `json:"template"`
	Name             string `json:"name"`
	SystemPrompt     string `json:"system_prompt"`
	SystemPromptFile string `json:"system_prompt_file"`
	Greeting         string `json:"greeting"`
	SelfieTemplate   string `json:"selfie_template"`

	SelfieAck          string `json:"selfie_ack"`
	ImageAck           string `json:"image_ack"`
	ImageUsage         string `json:"image_usage"`
	CaptionInstruction string `json:"caption_instruction"`
	CaptionFailure     string `json:"caption_failure"`
	ImageFailure       string `json:"image_failure"`
	ChatFailure        string `json:"chat_failure"`
}

// BackendsConfig selects the text and image providers and carries their settings.
type BackendsConfig struct {
	Text                  string        `json:"text" validate:"omitempty,oneof=huggingface openai fantasy opencode groq"`
	Image                 string        `json:"image" validate:"omitempty,oneof=huggingface openai getimg vertex"`
	RequestTimeoutSeconds int           `json:"request_timeout_seconds" validate:"gte=0"`
	Breaker               BreakerConfig `json:"breaker"`

	HuggingFace HuggingFaceConfig `json:"huggingface"`
	OpenAI      OpenAIConfig      `json:"openai"`
	OpenCode    OpenCodeConfig    `json:"opencode"`
	Groq        GroqConfig        `json:"groq"`
	GetIMG      GetIMGConfig      `json:"getimg"`
	Vertex      VertexConfig      `json:"vertex"`
}

// BreakerConfig enables the per-backend circuit breaker.
type BreakerConfig struct {
	Enabled             bool `json:"enabled"`
	ConsecutiveFailures int  `json:"consecutive_failures" validate:"gte=0"`
	OpenSeconds         int  `json:"open_seconds" validate:"gte=0"`
}

// HuggingFaceConfig configures the Hugging Face inference API.
type HuggingFaceConfig struct {
	APIKey       string `json:"-" env:"HUGGINGFACE_API_KEY"`
	BaseURL      string `json:"base_url"`
	TextModel    string `json:"text_model"`
	ImageModel   string `json:"image_model"`
	MaxNewTokens int    `json:"max_new_tokens" validate:"gte=0"`
}

// OpenAIConfig configures the OpenAI-backed text and image variants (openai and fantasy).
type OpenAIConfig struct {
	APIKey       string  `json:"-" env:"OPENAI_API_KEY"`
	BaseURL      string  `json:"base_url"`
	Organization string  `json:"organization"`
	Project      string  `json:"project"`
	TextModel    string  `json:"text_model"`
	ImageModel   string  `json:"image_model"`
	ImageSize    string  `json:"image_size"`
	MaxTokens    int     `json:"max_tokens" validate:"gte=0"`
	Temperature  float64 `json:"temperature" validate:"gte=0,lte=2"`
}

// OpenCodeConfig configures the OpenCode session server.
type OpenCodeConfig struct {
	BaseURL     string `json:"base_url" env:"OPENCODE_BASE_URL"`
	Username    string `json:"username"`
	PasswordEnv string `json:"password_env"`
	Model       string `json:"model"`
	Agent       string `json:"agent"`
}

// GroqConfig configures the Groq OpenAI-compatible chat completions API.
type GroqConfig struct {
	APIKey    string `json:"-" env:"GROQ_API_KEY"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens" validate:"gte=0"`
}

// GetIMGConfig configures the GetIMG text-to-image API.
type GetIMGConfig struct {
	APIKey  string `json:"-" env:"GETIMG_API_KEY"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	Width   int    `json:"width" validate:"gte=0"`
	Height  int    `json:"height" validate:"gte=0"`
	Steps   int    `json:"steps" validate:"gte=0"`
}

// VertexConfig configures Imagen on Vertex AI; credentials come from ADC.
type VertexConfig struct {
	Project  string `json:"project" env:"GOOGLE_CLOUD_PROJECT"`
	Location string `json:"location" env:"GOOGLE_CLOUD_LOCATION"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Token         string   `json:"token" env:"TELEGRAM_TOKEN"`
	APIServer     string   `json:"api_server"`
	WebhookSecret string   `json:"webhook_secret" env:"TELEGRAM_WEBHOOK_SECRET"`
	AllowFrom     []string `json:"allow_from" env:"TELEGRAM_ALLOW_FROM" envSeparator:","`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port" env:"PORT" validate:"gte=0,lte=65535"`
	WebhookPath string `json:"webhook_path" validate:"omitempty,startswith=/"`
	PollWorkers int    `json:"poll_workers" validate:"gte=0"`
	QueueSize   int    `json:"queue_size" validate:"gte=0"`
}

// LoadConfig resolves config.json (if any), unmarshals it, applies environment overrides and validates the result.
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns the configuration used when no config file is present.
func Defaults() *Config {
	return &Config{
		Backends: BackendsConfig{
			Text:                  "huggingface",
			Image:                 "huggingface",
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Gateway: GatewayConfig{
			Host:        defaultGatewayHost,
			Port:        defaultGatewayPort,
			WebhookPath: defaultWebhookPath,
			PollWorkers: defaultPollWorkers,
			QueueSize:   defaultQueueSize,
		},
	}
}

// Validate checks enum and range constraints declared on the config structs.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// applyEnvOverrides injects env-driven settings (mostly credentials) on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	cfg.Channels.Telegram.AllowFrom = compact(cfg.Channels.Telegram.AllowFrom)
	return nil
}

// applyDefaults fills zero values a config file may leave unset.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Backends.Text) == "" {
		cfg.Backends.Text = "huggingface"
	}
	if strings.TrimSpace(cfg.Backends.Image) == "" {
		cfg.Backends.Image = "huggingface"
	}
	if cfg.Backends.RequestTimeoutSeconds <= 0 {
		cfg.Backends.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if strings.TrimSpace(cfg.Gateway.Host) == "" {
		cfg.Gateway.Host = defaultGatewayHost
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = defaultGatewayPort
	}
	if strings.TrimSpace(cfg.Gateway.WebhookPath) == "" {
		cfg.Gateway.WebhookPath = defaultWebhookPath
	}
	if cfg.Gateway.PollWorkers <= 0 {
		cfg.Gateway.PollWorkers = defaultPollWorkers
	}
	if cfg.Gateway.QueueSize <= 0 {
		cfg.Gateway.QueueSize = defaultQueueSize
	}
}

// compact trims values and drops empty entries.
func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	if len(clean) == 0 {
		return nil
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is LUNA_CONFIG first, then cwd-local fallback paths. No file is not an error.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
