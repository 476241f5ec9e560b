// Package remote holds the JSON-over-HTTP plumbing shared by providers without an SDK.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	maxResponseBytes = 32 << 20
	errorBodyLimit   = 512
)

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider responded with status %d: %s", e.StatusCode, e.Body)
}

// Response is a successful provider reply.
type Response struct {
	Body        []byte
	ContentType string
}

// PostJSON sends payload as JSON to url and returns the raw response body.
func PostJSON(ctx context.Context, client *http.Client, url string, header http.Header, payload any) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &StatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(content)))}
	}

	return Response{Body: content, ContentType: resp.Header.Get("Content-Type")}, nil
}

// DecodeJSON unmarshals a successful JSON response.
func DecodeJSON(resp Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Bearer returns an Authorization header for token.
func Bearer(token string) http.Header {
	header := http.Header{}
	if token = strings.TrimSpace(token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

func truncate(text string) string {
	if len(text) <= errorBodyLimit {
		return text
	}
	return text[:errorBodyLimit] + "..."
}
