package huggingface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lunarelay/pkg/backend/remote"
	backendtypes "lunarelay/pkg/backend/types"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

// TextClient completes chat text with an instruction-tuned model using ChatML turns.
type TextClient struct {
	settings
	model        string
	maxNewTokens int
}

type textRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters textParameters `json:"parameters"`
}

type textParameters struct {
	MaxNewTokens   int  `json:"max_new_tokens"`
	ReturnFullText bool `json:"return_full_text"`
}

type textGeneration struct {
	GeneratedText string `json:"generated_text"`
}

func NewTextClient(cfg *config.Config) (*TextClient, error) {
	s, err := newSettings(cfg)
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(cfg.Backends.HuggingFace.TextModel)
	if model == "" {
		model = defaultTextModel
	}
	maxNewTokens := cfg.Backends.HuggingFace.MaxNewTokens
	if maxNewTokens <= 0 {
		maxNewTokens = defaultMaxNewTokens
	}

	return &TextClient{settings: s, model: model, maxNewTokens: maxNewTokens}, nil
}

func (c *TextClient) Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error) {
	log := providerLogger().With("operation", "complete", "model", c.model)
	startedAt := time.Now()

	history := conversation.HistoryFrom(session, conversation.DefaultHistoryLimit)
	log.Debug("provider request started", "prompt_length", len(text), "history_length", history.Len())

	resp, err := remote.PostJSON(ctx, c.client, c.modelURL(c.model), remote.Bearer(c.apiKey), textRequest{
		Inputs: chatML(p.SystemPrompt, history, text),
		Parameters: textParameters{
			MaxNewTokens:   c.maxNewTokens,
			ReturnFullText: false,
		},
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("complete failed: %w", err)
	}

	var generations []textGeneration
	if err := remote.DecodeJSON(resp, &generations); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", err
	}
	if len(generations) == 0 {
		return "", backendtypes.ErrNoOutput
	}

	reply := strings.TrimSpace(generations[0].GeneratedText)
	if reply == "" {
		return "", backendtypes.ErrNoOutput
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(reply))

	if session != nil {
		session.Update(history.Append("user", text).Append("assistant", reply))
	}

	return reply, nil
}

// chatML renders the system prompt, prior turns and the new user text with
// ChatML delimiters, leaving the assistant turn open for generation.
func chatML(systemPrompt string, history conversation.History, text string) string {
	var b strings.Builder
	writeTurn(&b, "system", systemPrompt)
	for _, entry := range history.List() {
		writeTurn(&b, entry.Role, entry.Content)
	}
	writeTurn(&b, "user", text)
	b.WriteString("<|im_start|>assistant")
	return b.String()
}

func writeTurn(b *strings.Builder, role string, content string) {
	b.WriteString("<|im_start|>")
	b.WriteString(role)
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("<|im_end|>\n")
}
