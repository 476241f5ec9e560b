// Package huggingface calls the Hugging Face serverless inference API.
package huggingface

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"lunarelay/pkg/config"
)

const (
	defaultBaseURL      = "https://api-inference.huggingface.co/models"
	defaultTextModel    = "dphn/dolphin-2.9-llama3-8b"
	defaultImageModel   = "stabilityai/stable-diffusion-xl-base-1.0"
	defaultMaxNewTokens = 512
)

type settings struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newSettings(cfg *config.Config) (settings, error) {
	providerCfg := cfg.Backends.HuggingFace
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return settings{}, errors.New("HUGGINGFACE_API_KEY must be set")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(providerCfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return settings{apiKey: apiKey, baseURL: baseURL, client: &http.Client{}}, nil
}

func (s settings) modelURL(model string) string {
	return s.baseURL + "/" + strings.Trim(strings.TrimSpace(model), "/")
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "backend.huggingface")
}
