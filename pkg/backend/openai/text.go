package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/responses"

	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

// TextClient answers through the Responses API. A chat's session handle is
// the id of a server-side conversation, so history lives with OpenAI.
type TextClient struct {
	client      osdk.Client
	model       string
	maxTokens   int64
	temperature float64
}

func NewTextClient(cfg *config.Config) (*TextClient, error) {
	providerCfg := cfg.Backends.OpenAI
	client, err := newSDKClient(providerCfg)
	if err != nil {
		return nil, err
	}

	model, err := normalizeModel(providerCfg.TextModel, defaultTextModel)
	if err != nil {
		return nil, err
	}

	return &TextClient{
		client:      client,
		model:       model,
		maxTokens:   int64(providerCfg.MaxTokens),
		temperature: providerCfg.Temperature,
	}, nil
}

func (c *TextClient) Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error) {
	log := providerLogger().With("operation", "complete", "model", c.model)
	startedAt := time.Now()

	params := responses.ResponseNewParams{
		Model:        c.model,
		Instructions: osdk.String(p.SystemPrompt),
		Input:        responses.ResponseNewParamsInputUnion{OfString: osdk.String(text)},
	}
	if c.maxTokens > 0 {
		params.MaxOutputTokens = osdk.Int(c.maxTokens)
	}
	if c.temperature > 0 {
		params.Temperature = osdk.Float(c.temperature)
	}

	if session != nil {
		conversationID, err := c.conversationFor(ctx, session)
		if err != nil {
			log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
			return "", err
		}
		params.Conversation = responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: conversationID},
		}
	}
	log.Debug("provider request started", "prompt_length", len(text))

	response, err := c.client.Responses.New(ctx, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("complete failed: %w", err)
	}

	reply := strings.TrimSpace(response.OutputText())
	if reply == "" {
		return "", backendtypes.ErrNoOutput
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(reply))

	return reply, nil
}

// conversationFor returns the chat's conversation id, creating and storing one on first use.
func (c *TextClient) conversationFor(ctx context.Context, session *conversation.Session) (string, error) {
	if handle, ok := session.Handle(); ok {
		if id, ok := handle.(string); ok && id != "" {
			return id, nil
		}
	}

	created, err := c.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", fmt.Errorf("create conversation failed: %w", err)
	}
	if created == nil || strings.TrimSpace(created.ID) == "" {
		return "", errors.New("create conversation returned empty id")
	}

	id := strings.TrimSpace(created.ID)
	session.Update(id)
	return id, nil
}
