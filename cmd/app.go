package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"lunarelay/pkg/backend"
	"lunarelay/pkg/channel"
	"lunarelay/pkg/config"
	"lunarelay/pkg/conversation"
	"lunarelay/pkg/metrics"
	"lunarelay/pkg/persona"
	"lunarelay/pkg/router"
)

// newRouter builds the persona, backends and conversation store from cfg and
// wires them to sink. m may be nil.
func newRouter(cfg *config.Config, sink channel.Sink, m *metrics.Metrics, log *slog.Logger) (*router.Router, error) {
	p, err := persona.Load(cfg.Persona)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}

	text, err := backend.NewText(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize text backend: %w", err)
	}

	image, err := backend.NewImage(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize image backend: %w", err)
	}

	return assembleRouter(cfg, p, text, image, sink, m, log)
}

func assembleRouter(cfg *config.Config, p persona.Persona, text backend.TextBackend, image backend.ImageBackend, sink channel.Sink, m *metrics.Metrics, log *slog.Logger) (*router.Router, error) {
	var (
		observe  backend.StateObserver
		observer router.Observer
	)
	store := conversation.NewStore()
	if m != nil {
		observe = m.ObserveBreaker
		observer = m
		m.TrackSessions(store.Len)
	}

	return router.New(router.Deps{
		Text:     backend.WithTextBreaker(text, "text", cfg.Backends.Breaker, observe),
		Image:    backend.WithImageBreaker(image, "image", cfg.Backends.Breaker, observe),
		Sink:     sink,
		Store:    store,
		Persona:  p,
		Timeout:  time.Duration(cfg.Backends.RequestTimeoutSeconds) * time.Second,
		Observer: observer,
		Log:      log,
	})
}
