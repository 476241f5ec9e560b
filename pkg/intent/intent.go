// Package intent classifies inbound chat text into the actions the router dispatches.
package intent

import "strings"

// Kind enumerates the classified meanings of an inbound message.
type Kind int

const (
	Chat Kind = iota
	Start
	Selfie
	ImagePrompt
	// MissingImageArgument is an image command without a description.
	MissingImageArgument
)

const (
	commandStart  = "/start"
	commandSelfie = "/selfie"
	commandImage  = "/image"
	phraseSelfie  = "send a selfie"
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Selfie:
		return "selfie"
	case ImagePrompt:
		return "image_prompt"
	case MissingImageArgument:
		return "image_missing_argument"
	default:
		return "chat"
	}
}

// Intent is the classified message. Payload is set for ImagePrompt and Chat.
type Intent struct {
	Kind    Kind
	Payload string
}

// Classify derives the intent from message text. It is pure and total.
func Classify(text string) Intent {
	trimmed := strings.TrimSpace(text)
	command, rest := splitCommand(trimmed)
	lowered := strings.ToLower(command)

	switch {
	case lowered == commandStart && rest == "":
		return Intent{Kind: Start}
	case lowered == commandSelfie && rest == "":
		return Intent{Kind: Selfie}
	case strings.EqualFold(trimmed, phraseSelfie):
		return Intent{Kind: Selfie}
	case lowered == commandImage:
		payload := strings.TrimSpace(rest)
		if payload == "" {
			return Intent{Kind: MissingImageArgument}
		}
		return Intent{Kind: ImagePrompt, Payload: payload}
	}

	return Intent{Kind: Chat, Payload: text}
}

// splitCommand separates a leading slash command from its argument and
// drops a bot mention suffix such as "/start@LunaBot".
func splitCommand(trimmed string) (string, string) {
	if !strings.HasPrefix(trimmed, "/") {
		return "", ""
	}

	command, rest := trimmed, ""
	if idx := strings.IndexAny(trimmed, " \t\n"); idx >= 0 {
		command, rest = trimmed[:idx], trimmed[idx+1:]
	}
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	return command, rest
}
