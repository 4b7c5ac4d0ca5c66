package metrics

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/kepsync/config"
	"github.com/xtxerr/kepsync/internal/client"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/logging"
)

var log = logging.Component("metrics")

// Server serves /metrics and /healthz.
type Server struct {
	metrics *Metrics
	server  *http.Server

	// state mirrors the last connectivity reported through SetConnectivity.
	state atomic.Int32
}

// NewServer creates a server for m listening on addr.
func NewServer(addr string, m *Metrics) *Server {
	s := &Server{metrics: m}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	return r
}

// SetConnectivity records state for the health endpoint and the
// connectivity gauge.
func (s *Server) SetConnectivity(state client.Connectivity) {
	s.state.Store(int32(state))
	s.metrics.SetConnectivity(state)
}

// handleHealth reports 503 while the server is known to be unreachable.
// An unknown state counts as healthy; it only means the next pass
// re-validates the connection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := client.Connectivity(s.state.Load())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if state == client.ConnectivityDisconnected {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write([]byte(state.String() + "\n"))
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// config.DefaultShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
		_ = s.server.Close()
		return err
	}
	log.Info("metrics server stopped")
	return nil
}
