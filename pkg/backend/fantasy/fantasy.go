// Package fantasy runs chat turns through a charm fantasy agent, keeping the
// message history as the chat's session handle.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

const (
	defaultModel = "gpt-4o-mini"
	// maxHistoryMessages bounds the replayed transcript per chat.
	maxHistoryMessages = 40
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type Client struct {
	provider        languageModelProvider
	modelID         string
	maxOutputTokens *int64
	temperature     *float64
	generate        func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Backends.OpenAI
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeOpenAIModel(providerCfg.TextModel)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	client := &Client{
		provider: fantasyProvider,
		modelID:  modelID,
		generate: generateWithFantasyAgent,
	}
	if providerCfg.MaxTokens > 0 {
		maxTokens := int64(providerCfg.MaxTokens)
		client.maxOutputTokens = &maxTokens
	}
	if providerCfg.Temperature > 0 {
		temp := providerCfg.Temperature
		client.temperature = &temp
	}

	return client, nil
}

func (c *Client) Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error) {
	log := slog.Default().With("component", "backend.fantasy", "operation", "complete", "model", c.modelID)
	startedAt := time.Now()

	history := historyFrom(session)
	log.Debug("provider request started", "prompt_length", len(text), "history_length", len(history))

	languageModel, err := c.provider.LanguageModel(ctx, c.modelID)
	if err != nil {
		return "", fmt.Errorf("resolve language model: %w", err)
	}

	messages := make([]core.Message, 0, len(history)+1)
	messages = append(messages, textMessage(core.MessageRoleSystem, p.SystemPrompt))
	messages = append(messages, history...)

	call := core.AgentCall{
		Prompt:          text,
		Messages:        messages,
		MaxOutputTokens: c.maxOutputTokens,
		Temperature:     c.temperature,
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	result, err := generate(ctx, languageModel, call)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("complete failed: %w", err)
	}

	reply := extractText(result.Response.Content)
	if reply == "" {
		return "", backendtypes.ErrNoOutput
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(reply))

	if session != nil {
		next := make([]core.Message, 0, len(history)+2)
		next = append(next, history...)
		next = append(next, core.NewUserMessage(text), textMessage(core.MessageRoleAssistant, reply))
		if len(next) > maxHistoryMessages {
			next = next[len(next)-maxHistoryMessages:]
		}
		session.Update(next)
	}

	return reply, nil
}

// historyFrom returns a copy of the session's stored transcript.
func historyFrom(session *conversation.Session) []core.Message {
	if session == nil {
		return nil
	}
	handle, ok := session.Handle()
	if !ok {
		return nil
	}
	stored, ok := handle.([]core.Message)
	if !ok {
		return nil
	}

	history := make([]core.Message, len(stored))
	copy(history, stored)
	return history
}

func textMessage(role core.MessageRole, text string) core.Message {
	return core.Message{
		Role:    role,
		Content: []core.MessagePart{core.TextPart{Text: strings.TrimSpace(text)}},
	}
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultModel, nil
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
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	return core.NewAgent(model).Generate(ctx, call)
}
