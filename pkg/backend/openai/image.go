package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"

	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
)

// ImageClient generates images through the Images API and decodes the base64 payload.
type ImageClient struct {
	client osdk.Client
	model  string
	size   string
}

func NewImageClient(cfg *config.Config) (*ImageClient, error) {
	providerCfg := cfg.Backends.OpenAI
	client, err := newSDKClient(providerCfg)
	if err != nil {
		return nil, err
	}

	model, err := normalizeModel(providerCfg.ImageModel, defaultImageModel)
	if err != nil {
		return nil, err
	}

	return &ImageClient{client: client, model: model, size: strings.TrimSpace(providerCfg.ImageSize)}, nil
}

func (c *ImageClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	log := providerLogger().With("operation", "generate", "model", c.model)
	startedAt := time.Now()
	log.Debug("provider request started", "prompt_length", len(prompt))

	response, err := c.client.Images.Generate(ctx, c.params(prompt))
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("generate failed: %w", err)
	}
	if response == nil || len(response.Data) == 0 || response.Data[0].B64JSON == "" {
		return nil, backendtypes.ErrNoOutput
	}

	image, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "image_bytes", len(image))

	return image, nil
}

func (c *ImageClient) params(prompt string) osdk.ImageGenerateParams {
	params := osdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  osdk.ImageModel(c.model),
		N:      osdk.Int(1),
	}
	// dall-e models default to URLs; gpt-image models always return base64.
	if strings.HasPrefix(c.model, "dall-e") {
		params.ResponseFormat = osdk.ImageGenerateParamsResponseFormatB64JSON
	}
	if c.size != "" {
		params.Size = osdk.ImageGenerateParamsSize(c.size)
	}
	return params
}
