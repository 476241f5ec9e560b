package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"lunarelay/pkg/bus"
	"lunarelay/pkg/channel"
	"lunarelay/pkg/channel/telegram"
	"lunarelay/pkg/config"
	"lunarelay/pkg/metrics"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8080

	modeWebhook = "webhook"
	modePoll    = "poll"
)

// Options wires a Service. Adapter switches the service to poll mode: inbound
// messages come from the adapter instead of the webhook endpoint.
type Options struct {
	Config  *config.Config
	Handle  bus.HandleFunc
	Metrics *metrics.Metrics
	Adapter channel.Adapter
	Log     *slog.Logger
}

// Service serves the webhook, health, readiness and metrics endpoints and, in
// poll mode, drives the channel adapter through the message bus.
type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	handle    bus.HandleFunc
	metrics   *metrics.Metrics
	bus       *bus.MessageBus
	adapter   channel.Adapter
	allowFrom telegram.AllowList
	secret    string
	mode      string
	routes    http.Handler

	mu            sync.RWMutex
	startedAt     time.Time
	serving       bool
	handled       int64
	failed        int64
	lastHandledAt time.Time
	lastError     string
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	Mode          string                  `json:"mode"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Handled       int64                   `json:"handled"`
	Failed        int64                   `json:"failed"`
	LastHandledAt string                  `json:"last_handled_at,omitempty"`
	LastError     string                  `json:"last_error,omitempty"`
	Pending       int                     `json:"pending"`
	Channels      map[string]channelState `json:"channels,omitempty"`
}

func NewService(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Handle == nil {
		return nil, errors.New("message handler is required")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Service{
		cfg:           opts.Config,
		log:           log.With("component", "gateway.service"),
		handle:        opts.Handle,
		metrics:       m,
		bus:           bus.NewMessageBus(opts.Config.Gateway.QueueSize),
		adapter:       opts.Adapter,
		allowFrom:     telegram.NewAllowList(opts.Config.Channels.Telegram.AllowFrom),
		secret:        strings.TrimSpace(opts.Config.Channels.Telegram.WebhookSecret),
		mode:          modeWebhook,
		channelStates: map[string]channelState{},
	}

	if opts.Adapter != nil {
		s.mode = modePoll
		s.channelStates[opts.Adapter.Name()] = channelState{}
	}

	s.routes = s.newRouter()
	return s, nil
}

// Handler returns the HTTP routes without starting a server.
func (s *Service) Handler() http.Handler {
	return s.routes
}

func (s *Service) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recoverer(s.log))
	r.Use(s.metrics.Middleware)

	if s.mode == modeWebhook {
		r.Post(s.webhookPath(), s.handleWebhook)
	}
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// Run serves HTTP (and polls the adapter in poll mode) until ctx ends or a
// component fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	defer s.bus.Close()

	events, unsubscribe := s.bus.SubscribeEvents(ctx, 0)
	defer unsubscribe()
	go s.trackEvents(events)

	serverErrors := make(chan error, 1)
	go s.runServer(ctx, serverErrors)

	errCh := make(chan error, 2)
	if s.adapter != nil {
		go func() {
			if err := s.bus.Serve(ctx, s.cfg.Gateway.PollWorkers, withTyping(s.adapter, s.handle)); err != nil {
				errCh <- fmt.Errorf("serve message bus: %w", err)
			}
		}()

		name := s.adapter.Name()
		s.setChannelState(name, channelState{Running: true})
		go func() {
			err := s.adapter.Run(ctx, s.bus.Handler())
			s.setChannelState(name, channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", name, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

// withTyping keeps the adapter's typing status on while a queued message is
// handled. Adapters without a typing status get handle back unchanged.
func withTyping(adapter channel.Adapter, handle bus.HandleFunc) bus.HandleFunc {
	typer, ok := adapter.(channel.Typer)
	if !ok {
		return handle
	}

	return func(ctx context.Context, msg channel.InboundMessage) error {
		stop := typer.StartTyping(ctx, msg.ChatID)
		defer stop()
		return handle(ctx, msg)
	}
}

func (s *Service) runServer(ctx context.Context, errCh chan<- error) {
	addr := s.address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		errCh <- fmt.Errorf("listen on %s: %w", addr, err)
		return
	}

	server := &http.Server{
		Handler:           s.routes,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.setServing(true)
	defer s.setServing(false)

	s.log.Info("Gateway server started", "address", listener.Addr().String(), "mode", s.mode, "webhook_path", s.webhookPath())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("serve http: %w", err)
	}
}

func (s *Service) address() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) webhookPath() string {
	path := strings.TrimSpace(s.cfg.Gateway.WebhookPath)
	if path == "" {
		return "/webhook"
	}
	return path
}

// trackEvents folds dispatch events into the status counters.
func (s *Service) trackEvents(events <-chan bus.Event) {
	for event := range events {
		switch event.Type {
		case bus.EventMessageHandled:
			s.mu.Lock()
			s.handled++
			s.lastHandledAt = event.At
			s.mu.Unlock()
		case bus.EventMessageFailed:
			s.mu.Lock()
			s.failed++
			s.lastHandledAt = event.At
			s.lastError = event.Error
			s.mu.Unlock()
		}
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	lastHandled := ""
	if !s.lastHandledAt.IsZero() {
		lastHandled = s.lastHandledAt.Format(time.RFC3339)
	}

	var channels map[string]channelState
	if len(s.channelStates) > 0 {
		channels = make(map[string]channelState, len(s.channelStates))
		for name, state := range s.channelStates {
			channels[name] = state
		}
	}

	return statusResponse{
		Status:        status,
		Mode:          s.mode,
		UptimeSeconds: uptime,
		Handled:       s.handled,
		Failed:        s.failed,
		LastHandledAt: lastHandled,
		LastError:     s.lastError,
		Pending:       s.bus.Pending(),
		Channels:      channels,
	}
}

// isReady reports whether the server listens and, in poll mode, whether the
// adapter is still running.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.serving {
		return false
	}

	if s.mode == modeWebhook {
		return true
	}

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}
	return false
}

func (s *Service) setServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving = serving
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
