package persona

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"lunarelay/pkg/config"
)

const defaultTemplateName = "luna"

//go:embed templates/*.md
var templatesFS embed.FS

// Load resolves the persona from the embedded template and applies config overrides.
func Load(cfg config.PersonaConfig) (Persona, error) {
	templateName := strings.TrimSpace(cfg.Template)
	if templateName == "" {
		templateName = defaultTemplateName
	}

	systemPrompt, err := loadTemplate(templateName)
	if err != nil {
		return Persona{}, err
	}

	if path := strings.TrimSpace(cfg.SystemPromptFile); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Persona{}, fmt.Errorf("read system prompt file: %w", err)
		}
		systemPrompt = strings.TrimSpace(string(content))
	}
	if value := strings.TrimSpace(cfg.SystemPrompt); value != "" {
		systemPrompt = value
	}
	if systemPrompt == "" {
		return Persona{}, errors.New("persona system prompt is empty")
	}

	p := Persona{
		Name:         "Luna",
		SystemPrompt: systemPrompt,
		Lines:        defaultLines(),
	}
	if value := strings.TrimSpace(cfg.Name); value != "" {
		p.Name = value
	}
	p.Greeting = "Hey there! It's " + p.Name + ". So happy to hear from you. What's on your mind?"
	if value := strings.TrimSpace(cfg.Greeting); value != "" {
		p.Greeting = value
	}
	if value := strings.TrimSpace(cfg.SelfieTemplate); value != "" {
		if !strings.Contains(value, CaptionPlaceholder) {
			return Persona{}, fmt.Errorf("persona selfie template must contain %s", CaptionPlaceholder)
		}
		p.Lines.SelfieTemplate = value
	}
	if value := strings.TrimSpace(cfg.ImageAck); value != "" && !strings.Contains(value, PromptPlaceholder) {
		return Persona{}, fmt.Errorf("persona image ack must contain %s", PromptPlaceholder)
	}
	overrideLine(&p.Lines.SelfieAck, cfg.SelfieAck)
	overrideLine(&p.Lines.ImageAck, cfg.ImageAck)
	overrideLine(&p.Lines.ImageUsage, cfg.ImageUsage)
	overrideLine(&p.Lines.CaptionInstruction, cfg.CaptionInstruction)
	overrideLine(&p.Lines.CaptionFailure, cfg.CaptionFailure)
	overrideLine(&p.Lines.ImageFailure, cfg.ImageFailure)
	overrideLine(&p.Lines.ChatFailure, cfg.ChatFailure)

	return p, nil
}

func overrideLine(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

// Default returns the embedded persona without overrides.
func Default() Persona {
	p, err := Load(config.PersonaConfig{})
	if err != nil {
		panic(err)
	}
	return p
}

func loadTemplate(templateName string) (string, error) {
	content, err := templatesFS.ReadFile(templatePath(templateName))
	if err != nil {
		return "", fmt.Errorf("load %s persona template: %w", templateName, err)
	}

	return strings.TrimSpace(string(content)), nil
}

func templatePath(templateName string) string {
	return "templates/" + strings.TrimSpace(templateName) + ".md"
}
