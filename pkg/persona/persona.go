package persona

import "strings"

// CaptionPlaceholder is replaced by the generated caption in Lines.SelfieTemplate.
const CaptionPlaceholder = "{caption}"

// PromptPlaceholder is replaced by the user's image prompt in Lines.ImageAck.
const PromptPlaceholder = "{prompt}"

// Persona is the immutable character configuration shared by the router and text backends.
type Persona struct {
	Name         string
	SystemPrompt string
	Greeting     string
	Lines        Lines
}

// Lines holds the fixed user-facing sentences and prompt templates.
type Lines struct {
	SelfieAck          string
	ImageAck           string
	ImageUsage         string
	CaptionInstruction string
	SelfieTemplate     string
	CaptionFailure     string
	ImageFailure       string
	ChatFailure        string
}

// SelfiePrompt renders the image-generation prompt for a selfie caption.
func (p Persona) SelfiePrompt(caption string) string {
	return strings.ReplaceAll(p.Lines.SelfieTemplate, CaptionPlaceholder, strings.TrimSpace(caption))
}

// ImageAck renders the acknowledgment sent before generating an image for an explicit prompt.
func (p Persona) ImageAck(prompt string) string {
	return strings.ReplaceAll(p.Lines.ImageAck, PromptPlaceholder, strings.TrimSpace(prompt))
}

func defaultLines() Lines {
	return Lines{
		SelfieAck:          "Okay, one second, let me take one for you... This might take a minute, I want it to be perfect! 😉",
		ImageAck:           "Ooh, \"{prompt}\"... let me paint that for you, give me a minute! 🎨",
		ImageUsage:         "Tell me what to draw, love! Try: /image a castle in the clouds",
		CaptionInstruction: "Describe the selfie you are taking in one short, creative sentence.",
		SelfieTemplate:     "photograph, selfie of a beautiful woman, {caption}, detailed face, soft natural lighting, cinematic",
		CaptionFailure:     "My mind's a little fuzzy trying to think of a pose. Ask me again!",
		ImageFailure:       "Aww, my camera app is acting up right now. Try again in a bit.",
		ChatFailure:        "Sorry, I'm having a little trouble thinking right now. Can you try again?",
	}
}
