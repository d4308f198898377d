package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/marmos91/afs/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is the metrics port used when none is configured.
const DefaultPort = 9090

// shutdownGrace bounds the shutdown triggered by context cancellation.
const shutdownGrace = 5 * time.Second

// Server exposes the Prometheus registry over HTTP and runs as one of the
// server's background services.
//
// Endpoints:
//   - GET /metrics: metrics in text or OpenMetrics format
//   - GET /: plain-text list of the registered metric families
type Server struct {
	server       *http.Server
	port         atomic.Int32
	shutdownOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. 0 lets the system pick a free port.
	Port int
}

// NewServer creates a metrics server. Call Serve to start it.
func NewServer(config ServerConfig) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", metricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/", handleIndex).Methods(http.MethodGet)

	s := &Server{
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.port.Store(int32(config.Port))
	return s
}

func metricsHandler() http.Handler {
	registry := GetRegistry()
	if registry == nil {
		logger.Debug("Metrics collection disabled, /metrics answers 503")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintln(w, "AFS metrics: scrape GET /metrics")

	registry := GetRegistry()
	if registry == nil {
		return
	}
	families, err := registry.Gather()
	if err != nil {
		logger.Warn("Metrics: gather failed: %v", err)
		return
	}
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %s\n", name)
	}
}

// Name identifies the server among the background services.
func (s *Server) Name() string {
	return "metrics"
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve listens until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port()))
	if err != nil {
		return fmt.Errorf("failed to create metrics listener on port %d: %w", s.Port(), err)
	}
	s.port.Store(int32(listener.Addr().(*net.TCPAddr).Port))
	logger.Info("Metrics server listening on port %d", s.Port())

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Only the first call has any effect.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if err = s.server.Shutdown(ctx); err != nil {
			err = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return err
}

// Port returns the configured port, or the bound one once Serve listens.
func (s *Server) Port() int {
	return int(s.port.Load())
}
