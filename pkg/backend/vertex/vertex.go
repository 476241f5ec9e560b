// Package vertex generates images with Imagen on Vertex AI using application default credentials.
package vertex

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"lunarelay/pkg/backend/remote"
	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
)

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	defaultLocation    = "us-central1"
	defaultModel       = "imagen-3.0-generate-002"
)

type Client struct {
	url         string
	model       string
	tokenSource func(ctx context.Context) (oauth2.TokenSource, error)

	mu   sync.Mutex
	http *http.Client
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount int `json:"sampleCount"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Backends.Vertex
	project := strings.TrimSpace(providerCfg.Project)
	if project == "" {
		return nil, errors.New("GOOGLE_CLOUD_PROJECT must be set")
	}

	location := strings.TrimSpace(providerCfg.Location)
	if location == "" {
		location = defaultLocation
	}
	model := strings.TrimSpace(providerCfg.Model)
	if model == "" {
		model = defaultModel
	}

	endpoint := strings.TrimRight(strings.TrimSpace(providerCfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = "https://" + location + "-aiplatform.googleapis.com"
	}

	return &Client{
		url:         predictURL(endpoint, project, location, model),
		model:       model,
		tokenSource: defaultTokenSource,
	}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	log := slog.Default().With("component", "backend.vertex", "operation", "generate", "model", c.model)
	startedAt := time.Now()
	log.Debug("provider request started", "prompt_length", len(prompt))

	httpClient, err := c.httpClient()
	if err != nil {
		return nil, fmt.Errorf("resolve application default credentials: %w", err)
	}

	resp, err := remote.PostJSON(ctx, httpClient, c.url, nil, predictRequest{
		Instances:  []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{SampleCount: 1},
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("generate failed: %w", err)
	}

	var payload predictResponse
	if err := remote.DecodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	// Safety filters drop predictions without an error status.
	if len(payload.Predictions) == 0 || payload.Predictions[0].BytesBase64Encoded == "" {
		return nil, backendtypes.ErrNoOutput
	}

	image, err := base64.StdEncoding.DecodeString(payload.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "image_bytes", len(image))

	return image, nil
}

func predictURL(endpoint string, project string, location string, model string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict", endpoint, project, location, model)
}

// httpClient resolves application default credentials on first use and keeps
// the authorized client. A failed resolution is retried on the next call.
func (c *Client) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http != nil {
		return c.http, nil
	}

	// Token refreshes outlive any single request.
	ctx := context.Background()
	source, err := c.tokenSource(ctx)
	if err != nil {
		return nil, err
	}

	c.http = oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, source))
	return c.http, nil
}

func defaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	return google.DefaultTokenSource(ctx, cloudPlatformScope)
}
