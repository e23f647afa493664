// Package server exposes a live session over HTTP: JSON endpoints to connect,
// disconnect and read the current state, and a WebSocket that streams
// snapshots (state, volume, transcript, output spectrum) for a visualizer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/livevox/internal/health"
	"github.com/MrWong99/livevox/internal/live"
	"github.com/MrWong99/livevox/internal/observe"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultEventInterval paces /api/events to roughly 20 frames per second.
	DefaultEventInterval = 50 * time.Millisecond

	// connectTimeout bounds a connect request once the client has gone away.
	connectTimeout = 30 * time.Second

	writeTimeout = 5 * time.Second
)

// Controller is the session surface the server drives. [*live.Manager]
// satisfies it.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Snapshot() live.Snapshot
}

var _ Controller = (*live.Manager)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithEventInterval sets the snapshot push period of /api/events.
func WithEventInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h at /metrics instead of the default Prometheus
// registry handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics records HTTP metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the HTTP API.
type Server struct {
	ctrl           Controller
	interval       time.Duration
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	handler        http.Handler
}

// New builds the routes for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:     ctrl,
		interval: DefaultEventInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /metrics", s.metricsHandler)
	if s.health != nil {
		s.health.Register(mux)
	}
	s.handler = observe.Middleware(s.metrics, observe.MuxRoute(mux))(mux)
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. TLS is used when both certFile and keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, certFile, keyFile)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", certFile != "")
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ServeTLS(ln, certFile, keyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// view is the wire form of a snapshot. The spectrum is sent as numbers
// rather than base64 so browser clients can draw it directly.
type view struct {
	live.Snapshot
	Frequency []int `json:"frequency,omitempty"`
}

func newView(snap live.Snapshot) view {
	v := view{Snapshot: snap}
	if snap.Frequency != nil {
		v.Frequency = make([]int, len(snap.Frequency))
		for i, b := range snap.Frequency {
			v.Frequency[i] = int(b)
		}
	}
	return v
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	// The attempt outlives a client that hangs up; it is still bounded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), connectTimeout)
	defer cancel()

	if err := s.ctrl.Connect(ctx); err != nil {
		observe.Logger(r.Context()).Warn("connect failed", "err", err)
		writeJSON(w, http.StatusBadGateway, newView(s.ctrl.Snapshot()))
		return
	}
	writeJSON(w, http.StatusOK, newView(s.ctrl.Snapshot()))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Disconnect(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("disconnect failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, newView(s.ctrl.Snapshot()))
		return
	}
	writeJSON(w, http.StatusOK, newView(s.ctrl.Snapshot()))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newView(s.ctrl.Snapshot()))
}

// handleEvents pushes a snapshot every interval until the client closes the
// socket or the server shuts down. Client messages are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.push(ctx, conn); err != nil {
			if ctx.Err() == nil {
				observe.Logger(r.Context()).Debug("event stream ended", "err", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, newView(s.ctrl.Snapshot()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: encode response", "err", err)
	}
}
