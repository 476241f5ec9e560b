// Package getimg generates images with the GetIMG Stable Diffusion XL API.
package getimg

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lunarelay/pkg/backend/remote"
	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
)

const (
	defaultBaseURL = "https://api.getimg.ai/v1"
	defaultModel   = "stable-diffusion-xl-v1-0"
	defaultSize    = 1024
	defaultSteps   = 30
	textToImage    = "/stable-diffusion-xl/text-to-image"
)

type Client struct {
	apiKey string
	url    string
	model  string
	width  int
	height int
	steps  int
	client *http.Client
}

type generateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	OutputFormat   string `json:"output_format"`
	ResponseFormat string `json:"response_format"`
}

type generateResponse struct {
	Image string `json:"image"`
	Seed  int64  `json:"seed"`
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Backends.GetIMG
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("GETIMG_API_KEY must be set")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(providerCfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		apiKey: apiKey,
		url:    baseURL + textToImage,
		model:  orDefault(strings.TrimSpace(providerCfg.Model), defaultModel),
		width:  positiveOr(providerCfg.Width, defaultSize),
		height: positiveOr(providerCfg.Height, defaultSize),
		steps:  positiveOr(providerCfg.Steps, defaultSteps),
		client: &http.Client{},
	}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	log := slog.Default().With("component", "backend.getimg", "operation", "generate", "model", c.model)
	startedAt := time.Now()
	log.Debug("provider request started", "prompt_length", len(prompt))

	resp, err := remote.PostJSON(ctx, c.client, c.url, remote.Bearer(c.apiKey), generateRequest{
		Model:          c.model,
		Prompt:         prompt,
		Width:          c.width,
		Height:         c.height,
		Steps:          c.steps,
		OutputFormat:   "png",
		ResponseFormat: "b64",
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("generate failed: %w", err)
	}

	var payload generateResponse
	if err := remote.DecodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	if payload.Image == "" {
		return nil, backendtypes.ErrNoOutput
	}

	image, err := base64.StdEncoding.DecodeString(payload.Image)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "image_bytes", len(image), "seed", payload.Seed)

	return image, nil
}

func orDefault(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func positiveOr(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
