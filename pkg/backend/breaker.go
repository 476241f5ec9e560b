package backend

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/persona"
)

const (
	defaultBreakerFailures    = 5
	defaultBreakerOpenSeconds = 30
)

// StateObserver is notified when a breaker changes state.
type StateObserver func(name string, state string)

type textBreaker struct {
	next    TextBackend
	breaker *gobreaker.CircuitBreaker
}

type imageBreaker struct {
	next    ImageBackend
	breaker *gobreaker.CircuitBreaker
}

// WithTextBreaker wraps next with a circuit breaker that fails fast while the
// provider keeps failing. Returns next unchanged when the breaker is disabled.
func WithTextBreaker(next TextBackend, name string, cfg config.BreakerConfig, observe StateObserver) TextBackend {
	if !cfg.Enabled || next == nil {
		return next
	}
	return &textBreaker{next: next, breaker: newBreaker(name, cfg, observe)}
}

// WithImageBreaker is WithTextBreaker for image backends.
func WithImageBreaker(next ImageBackend, name string, cfg config.BreakerConfig, observe StateObserver) ImageBackend {
	if !cfg.Enabled || next == nil {
		return next
	}
	return &imageBreaker{next: next, breaker: newBreaker(name, cfg, observe)}
}

func (b *textBreaker) Complete(ctx context.Context, session *conversation.Session, p persona.Persona, text string) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		reply, err := b.next.Complete(ctx, session, p, text)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(reply) == "" {
			return "", ErrNoOutput
		}
		return reply, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (b *imageBreaker) Generate(ctx context.Context, prompt string) ([]byte, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		image, err := b.next.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		if len(image) == 0 {
			return nil, ErrNoOutput
		}
		return image, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func newBreaker(name string, cfg config.BreakerConfig, observe StateObserver) *gobreaker.CircuitBreaker {
	failures := cfg.ConsecutiveFailures
	if failures <= 0 {
		failures = defaultBreakerFailures
	}
	openSeconds := cfg.OpenSeconds
	if openSeconds <= 0 {
		openSeconds = defaultBreakerOpenSeconds
	}

	log := slog.Default().With("component", "backend.breaker", "backend", name)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Duration(openSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
			if observe != nil {
				observe(name, to.String())
			}
		},
	})
}
