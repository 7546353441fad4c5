// Package server provides a local HTTP status server exposing a running
// measurement's state and metrics.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thruflo/ppgcam/internal/config"
	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/metrics"
	"github.com/thruflo/ppgcam/internal/session"
)

// Defaults for the event stream.
const (
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultReconnectAfter   = 60 * time.Second
	DefaultShutdownDeadline = 5 * time.Second
)

// StateSource is what the server reports on.
type StateSource interface {
	Snapshot() session.State
	Samples() []frame.ChannelSample
}

// Server is the status HTTP server.
type Server struct {
	addr         string
	port         int
	source       StateSource
	registry     *prometheus.Registry
	pollInterval time.Duration
	logger       *logging.Logger

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	started  bool
}

// Config holds server configuration options.
type Config struct {
	// Addr is the interface to bind. Empty means localhost.
	Addr   string
	Port   int
	Source StateSource

	// Registry is served on /metrics. Nil means metrics.NewRegistry().
	Registry     *prometheus.Registry
	PollInterval time.Duration
	Logger       *logging.Logger
}

// NewServer creates a new Server instance.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("state source is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	s := &Server{
		addr:         cfg.Addr,
		port:         cfg.Port,
		source:       cfg.Source,
		registry:     cfg.Registry,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}
	if s.addr == "" {
		s.addr = "127.0.0.1"
	}
	if s.registry == nil {
		s.registry = metrics.NewRegistry()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.logger == nil {
		s.logger = logging.Component("server")
	}
	return s, nil
}

// NewServerFromConfig creates a Server for cfg.Status reporting on source.
func NewServerFromConfig(cfg *config.StatusConfig, source StateSource) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("status config is required")
	}
	return NewServer(&Config{Port: cfg.Port, Source: source})
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the server's routes without listening.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return mux
}

// Start starts the HTTP server. It blocks until ctx is cancelled or Stop is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(s.addr, fmt.Sprint(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.started = true
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("status server listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	err = srv.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownDeadline)
	defer cancel()

	s.started = false
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// ListenAddr returns the actual address the server is listening on, or ""
// before Start.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/samples", s.handleSamples)
	mux.HandleFunc("/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.source.Snapshot())
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	samples := s.source.Samples()
	if samples == nil {
		samples = []frame.ChannelSample{}
	}
	writeJSON(w, samples)
}

// handleEvents streams the state as Server-Sent Events. A state event is
// sent on connect and whenever the snapshot changes. The stream ends after
// DefaultReconnectAfter so clients reconnect periodically.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	reconnect := time.NewTimer(DefaultReconnectAfter)
	defer reconnect.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	var last []byte
	for {
		data, err := json.Marshal(s.source.Snapshot())
		if err != nil {
			s.logger.Warn("failed to marshal state", "error", err)
			return
		}
		if !bytes.Equal(data, last) {
			fmt.Fprintf(w, "event: state\n")
			fmt.Fprintf(w, "data:%s\n\n", data)
			flusher.Flush()
			last = data
		}

		select {
		case <-ctx.Done():
			return
		case <-reconnect.C:
			return
		case <-poll.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
