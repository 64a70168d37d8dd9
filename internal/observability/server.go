// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ReadinessChecker returns whether the service is ready to accept events.
type ReadinessChecker func() bool

// Default listener bind retry policy.
const (
	DefaultBindAttempts = 5
	DefaultBindBackoff  = 100 * time.Millisecond
)

// NewRegistry returns a registry with the Go runtime and process collectors.
// Bus, plugin host and store metrics register into it.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// RegisterPlayersTracked exposes the number of tracked players, read from
// count at scrape time.
func RegisterPlayersTracked(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "plugbus_players_tracked",
			Help: "Number of players currently held in the state store",
		},
		func() float64 { return float64(count()) },
	))
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr         string
	listener     net.Listener
	httpServer   *http.Server
	registry     *prometheus.Registry
	isReady      ReadinessChecker
	handlers     map[string]http.Handler
	bindAttempts uint64
	bindBackoff  time.Duration
	logger       *slog.Logger
	running      atomic.Bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHandler mounts an extra handler, such as a status endpoint.
func WithHandler(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		s.handlers[pattern] = h
	}
}

// WithBindRetry sets how often binding the listen address is attempted.
func WithBindRetry(attempts uint64, backoff time.Duration) ServerOption {
	return func(s *Server) {
		s.bindAttempts = attempts
		s.bindBackoff = backoff
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
// A nil registry gets NewRegistry().
func NewServer(addr string, registry *prometheus.Registry, readinessChecker ReadinessChecker, opts ...ServerOption) *Server {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Server{
		addr:         addr,
		registry:     registry,
		isReady:      readinessChecker,
		handlers:     make(map[string]http.Handler),
		bindAttempts: DefaultBindAttempts,
		bindBackoff:  DefaultBindBackoff,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := s.listen(ctx)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).With("attempts", s.bindAttempts).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	for pattern, h := range s.handlers {
		mux.Handle(pattern, h)
	}

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// listen binds the address, retrying with exponential backoff while the
// port is still held by a previous process.
func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	var listener net.Listener
	attempts := s.bindAttempts
	if attempts > 0 {
		attempts--
	}
	base := s.bindBackoff
	if base <= 0 {
		base = DefaultBindBackoff
	}
	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(base))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var lc net.ListenConfig
		l, err := lc.Listen(ctx, "tcp", s.addr)
		if err != nil {
			s.logger.Debug("observability listener bind failed", "addr", s.addr, "error", err)
			return retry.RetryableError(err)
		}
		listener = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listener, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// CompareAndSwap so a concurrent Start cannot slip in between the
	// running check and the state change.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready, or 503 if not.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
