package types

import (
	"context"
	"errors"

	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

// ErrNoOutput reports a successful provider call whose payload held no usable text or image.
var ErrNoOutput = errors.New("provider returned no output")

// TextBackend completes persona-primed chat text.
//
// A nil session means no conversation memory. Any non-nil error or empty text
// is the absent outcome; callers never surface the error to the user.
type TextBackend interface {
	Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error)
}

// ImageBackend generates one image for a natural-language prompt.
//
// Any non-nil error or zero-length payload is the absent outcome.
type ImageBackend interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}
