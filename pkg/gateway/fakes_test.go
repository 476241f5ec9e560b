package gateway

import (
	"context"
	"sync"

	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

type scriptedText struct {
	mu    sync.Mutex
	reply string
	panic bool
	calls int
}

func (f *scriptedText) Complete(context.Context, *conversation.Session, persona.Persona, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("text backend exploded")
	}
	return f.reply, nil
}

func (f *scriptedText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type scriptedImage struct {
	image []byte
}

func (f *scriptedImage) Generate(context.Context, string) ([]byte, error) {
	return f.image, nil
}
