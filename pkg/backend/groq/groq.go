// Package groq completes chat text on Groq's OpenAI-compatible endpoint.
package groq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.1-8b-instant"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	client    chatCompleter
	model     string
	maxTokens int
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Backends.Groq
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("GROQ_API_KEY must be set")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = defaultBaseURL
	if baseURL := strings.TrimRight(strings.TrimSpace(providerCfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	model := strings.TrimSpace(providerCfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Client{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: providerCfg.MaxTokens,
	}, nil
}

func (c *Client) Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error) {
	log := slog.Default().With("component", "backend.groq", "operation", "complete", "model", c.model)
	startedAt := time.Now()

	history := conversation.HistoryFrom(session, conversation.DefaultHistoryLimit)
	log.Debug("provider request started", "prompt_length", len(text), "history_length", history.Len())

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  buildMessages(p.SystemPrompt, history, text),
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("complete failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", backendtypes.ErrNoOutput
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", backendtypes.ErrNoOutput
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(reply))

	if session != nil {
		session.Update(history.Append(openai.ChatMessageRoleUser, text).Append(openai.ChatMessageRoleAssistant, reply))
	}

	return reply, nil
}

func buildMessages(systemPrompt string, history conversation.History, text string) []openai.ChatCompletionMessage {
	entries := history.List()
	msgs := make([]openai.ChatCompletionMessage, 0, len(entries)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, entry := range entries {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: entry.Role, Content: entry.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
	return msgs
}
