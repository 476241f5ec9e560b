// Package openai implements the text and image backends on the OpenAI API.
package openai

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"lunarelay/pkg/config"
)

const (
	defaultTextModel  = "gpt-4o-mini"
	defaultImageModel = "gpt-image-1"
)

func newSDKClient(cfg config.OpenAIConfig) (osdk.Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return osdk.Client{}, errors.New("OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Failures fall back to persona lines; the user retries by resending.
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	return osdk.NewClient(opts...), nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "backend.openai")
}

// normalizeModel accepts "model" or "openai/model".
func normalizeModel(model string, fallback string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return fallback, nil
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai backend", providerID)
	}

	return modelID, nil
}
