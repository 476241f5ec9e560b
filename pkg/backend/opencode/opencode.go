// Package opencode completes chat text through an OpenCode server session per chat.
package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"

	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

type Client struct {
	client *sdk.Client
	model  string
	agent  string
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Backends.OpenCode
	baseURL := strings.TrimSpace(providerCfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("backends.opencode.base_url is required")
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if authHeader, ok := buildBasicAuthHeader(providerCfg); ok {
		opts = append(opts, option.WithHeader("Authorization", authHeader))
	}

	return &Client{
		client: sdk.NewClient(opts...),
		model:  strings.TrimSpace(providerCfg.Model),
		agent:  strings.TrimSpace(providerCfg.Agent),
	}, nil
}

func (c *Client) Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error) {
	log := providerLogger().With("operation", "complete")
	startedAt := time.Now()

	sessionID, err := c.sessionFor(ctx, session, p)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", err
	}
	log.Debug("provider request started", "session_id", sessionID, "model", c.model, "prompt_length", len(text))

	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(text),
			},
		}),
		System: sdk.F(p.SystemPrompt),
	}
	if c.agent != "" {
		params.Agent = sdk.F(c.agent)
	}
	if providerID, modelID, ok := parseModelRef(c.model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}

	response, err := c.client.Session.Prompt(ctx, sessionID, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("complete failed: %w", err)
	}

	reply := extractText(response.Parts)
	if reply == "" {
		return "", backendtypes.ErrNoOutput
	}
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(reply),
		"parts_count", len(response.Parts),
	)

	return reply, nil
}

// sessionFor returns the chat's remote session id. Without a chat session a
// throwaway remote session is created for the single turn.
func (c *Client) sessionFor(ctx context.Context, session *conversation.Session, p persona.Persona) (string, error) {
	if session != nil {
		if handle, ok := session.Handle(); ok {
			if id, ok := handle.(string); ok && id != "" {
				return id, nil
			}
		}
	}

	params := sdk.SessionNewParams{}
	title := p.Name
	if session != nil {
		title = p.Name + " chat " + session.ChatID()
	}
	if strings.TrimSpace(title) != "" {
		params.Title = sdk.F(strings.TrimSpace(title))
	}

	created, err := c.client.Session.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create session failed: %w", err)
	}
	if created == nil || created.ID == "" {
		return "", errors.New("create session returned empty session id")
	}

	if session != nil {
		session.Update(created.ID)
	}
	return created.ID, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "backend.opencode")
}

func buildBasicAuthHeader(cfg config.OpenCodeConfig) (string, bool) {
	passwordEnv := strings.TrimSpace(cfg.PasswordEnv)
	if passwordEnv == "" {
		return "", false
	}

	password := strings.TrimSpace(os.Getenv(passwordEnv))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "opencode"
	}

	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + token, true
}

func parseModelRef(input string) (providerID string, modelID string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(input), "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	providerID = strings.TrimSpace(parts[0])
	modelID = strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", "", false
	}

	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type == sdk.PartTypeText {
			text := strings.TrimSpace(part.Text)
			if text != "" {
				lines = append(lines, text)
			}
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
