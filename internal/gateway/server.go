// Package gateway is the client-facing edge: one persistent websocket per
// client session carrying JSON action frames, plus health and metrics
// endpoints.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaylabs/relay/internal/gating"
	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/internal/runtime"
)

// Config holds the listener settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server accepts websocket sessions and routes their actions through the
// gating chain into the agent runtime.
type Server struct {
	cfg      Config
	gate     *gating.Gate
	runner   *runtime.Runner
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	upgrader websocket.Upgrader
	http     *http.Server
}

// New wires a server from its dependencies. A nil tracer disables prompt
// spans.
func New(cfg Config, gate *gating.Gate, runner *runtime.Runner, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	s := &Server{
		cfg:     cfg,
		gate:    gate,
		runner:  runner,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
	s.http = &http.Server{Addr: cfg.Addr, Handler: s.Handler()}
	return s
}

// Handler exposes the routes; split out so tests can mount it on httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	sess := newSession(s, conn)
	s.logger.Info(r.Context(), "session opened", "session_id", sess.id, "remote", r.RemoteAddr)
	go func() {
		sess.run()
		s.logger.Info(context.Background(), "session closed", "session_id", sess.id)
	}()
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info(ctx, "gateway listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
