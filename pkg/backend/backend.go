// Package backend selects the configured text and image providers.
package backend

import (
	"fmt"
	"log/slog"
	"strings"

	"lunarelay/pkg/backend/fantasy"
	"lunarelay/pkg/backend/getimg"
	"lunarelay/pkg/backend/groq"
	"lunarelay/pkg/backend/huggingface"
	backendopenai "lunarelay/pkg/backend/openai"
	"lunarelay/pkg/backend/opencode"
	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/backend/vertex"
	"lunarelay/pkg/config"
)

type (
	TextBackend  = backendtypes.TextBackend
	ImageBackend = backendtypes.ImageBackend
)

var ErrNoOutput = backendtypes.ErrNoOutput

// NewText builds the text backend named by backends.text.
func NewText(cfg *config.Config) (TextBackend, error) {
	name := strings.TrimSpace(cfg.Backends.Text)
	if name == "" {
		name = "huggingface"
	}

	slog.Default().With("component", "backend.factory").Debug("Resolving text backend", "backend", name)

	switch name {
	case "huggingface":
		return huggingface.NewTextClient(cfg)
	case "openai":
		return backendopenai.NewTextClient(cfg)
	case "fantasy":
		return fantasy.New(cfg)
	case "opencode":
		return opencode.New(cfg)
	case "groq":
		return groq.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported text backend: %s", name)
	}
}

// NewImage builds the image backend named by backends.image.
func NewImage(cfg *config.Config) (ImageBackend, error) {
	name := strings.TrimSpace(cfg.Backends.Image)
	if name == "" {
		name = "huggingface"
	}

	slog.Default().With("component", "backend.factory").Debug("Resolving image backend", "backend", name)

	switch name {
	case "huggingface":
		return huggingface.NewImageClient(cfg)
	case "openai":
		return backendopenai.NewImageClient(cfg)
	case "getimg":
		return getimg.New(cfg)
	case "vertex":
		return vertex.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported image backend: %s", name)
	}
}
