// Package http exposes the file store as a JSON API over HTTP.
//
// Routes:
//   - /api: file operations and transaction control, selected by method
//   - GET /pathinfo/{dataset}: path index listing
//   - GET /health: liveness probe
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/internal/ratelimiter"
	"github.com/marmos91/afs/pkg/adapter"
)

// DefaultMaxRequestBytes bounds request bodies when no limit is configured.
const DefaultMaxRequestBytes = 64 << 20

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	// Enabled controls whether the HTTP adapter is started.
	Enabled bool `mapstructure:"enabled"`

	// Port to listen on. 0 picks a free port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxRequestBytes bounds the size of a request body.
	MaxRequestBytes int64 `mapstructure:"max_request_bytes" validate:"min=0"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout bounds the wait for in-flight requests on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// RateLimit throttles each session token separately.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-session rate limiting.
// A zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

func (c *HTTPConfig) applyDefaults() {
	if c.MaxRequestBytes == 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerSecond * 2
	}
}

// HTTPAdapter implements adapter.Adapter for the JSON API.
type HTTPAdapter struct {
	config  HTTPConfig
	backend adapter.Backend
	limiter *ratelimiter.Keyed

	server       *nethttp.Server
	port         atomic.Int32
	shutdownOnce sync.Once
}

var _ adapter.Adapter = (*HTTPAdapter)(nil)

// New creates a stopped adapter. Zero config values select defaults.
func New(config HTTPConfig) *HTTPAdapter {
	config.applyDefaults()
	a := &HTTPAdapter{config: config}
	if config.RateLimit.RequestsPerSecond > 0 {
		a.limiter = ratelimiter.NewKeyed(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst, 0, 0)
	}
	a.server = &nethttp.Server{
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return a
}

func (a *HTTPAdapter) SetBackend(b adapter.Backend) {
	a.backend = b
}

// Handler returns the router serving every route.
func (a *HTTPAdapter) Handler() nethttp.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api", a.handleAPI).Methods(nethttp.MethodGet, nethttp.MethodPost, nethttp.MethodDelete)
	r.HandleFunc("/pathinfo/{dataset}", a.handlePathInfo).Methods(nethttp.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(nethttp.MethodGet)
	r.MethodNotAllowedHandler = nethttp.HandlerFunc(func(w nethttp.ResponseWriter, req *nethttp.Request) {
		writeError(w, nethttp.StatusMethodNotAllowed, "MethodNotAllowed", req.Method+" is not allowed on "+req.URL.Path)
	})
	return r
}

// Serve listens until ctx is cancelled.
func (a *HTTPAdapter) Serve(ctx context.Context) error {
	if a.backend.API == nil {
		return errors.New("http adapter has no backend")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener on port %d: %w", a.config.Port, err)
	}
	a.port.Store(int32(listener.Addr().(*net.TCPAddr).Port))
	a.server.Handler = a.Handler()

	logger.Info("HTTP server listening on port %d", a.Port())
	logger.Debug("HTTP config: max_request_bytes=%d read_timeout=%v write_timeout=%v rate_limit=%d/s",
		a.config.MaxRequestBytes, a.config.ReadTimeout, a.config.WriteTimeout, a.config.RateLimit.RequestsPerSecond)

	errChan := make(chan error, 1)
	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		logger.Info("HTTP shutdown signal received: %v", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		return a.Stop(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop shuts the server down. Only the first call has any effect.
func (a *HTTPAdapter) Stop(ctx context.Context) error {
	var err error
	a.shutdownOnce.Do(func() {
		logger.Debug("HTTP shutdown initiated")
		if err = a.server.Shutdown(ctx); err != nil {
			err = fmt.Errorf("HTTP shutdown: %w", err)
			logger.Error("HTTP shutdown error: %v", err)
			return
		}
		logger.Info("HTTP server stopped gracefully")
	})
	return err
}

func (a *HTTPAdapter) Protocol() string {
	return "HTTP"
}

func (a *HTTPAdapter) Port() int {
	return int(a.port.Load())
}
