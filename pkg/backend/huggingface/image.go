package huggingface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lunarelay/pkg/backend/remote"
	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
)

// ImageClient generates images with a text-to-image model returning raw bytes.
type ImageClient struct {
	settings
	model string
}

type imageRequest struct {
	Inputs string `json:"inputs"`
}

func NewImageClient(cfg *config.Config) (*ImageClient, error) {
	s, err := newSettings(cfg)
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(cfg.Backends.HuggingFace.ImageModel)
	if model == "" {
		model = defaultImageModel
	}

	return &ImageClient{settings: s, model: model}, nil
}

func (c *ImageClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	log := providerLogger().With("operation", "generate", "model", c.model)
	startedAt := time.Now()
	log.Debug("provider request started", "prompt_length", len(prompt))

	resp, err := remote.PostJSON(ctx, c.client, c.modelURL(c.model), remote.Bearer(c.apiKey), imageRequest{Inputs: prompt})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("generate failed: %w", err)
	}
	if strings.HasPrefix(resp.ContentType, "application/json") {
		// A 200 with a JSON body is a queued or error notice, not an image.
		return nil, fmt.Errorf("generate returned %s instead of image bytes", resp.ContentType)
	}
	if len(resp.Body) == 0 {
		return nil, backendtypes.ErrNoOutput
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "image_bytes", len(resp.Body))

	return resp.Body, nil
}
