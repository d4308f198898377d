package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/adapter"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the graceful shutdown of adapters and services.
const DefaultShutdownTimeout = 30 * time.Second

// Service is a background component that runs alongside the adapters, such
// as the feeding scheduler or the metrics endpoint.
type Service interface {
	Name() string
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error
}

// AFSServer manages the lifecycle of the protocol adapters and background
// services that share one API backend.
//
// Lifecycle:
//  1. Creation: New() with the shared backend
//  2. Registration: AddAdapter() and AddService()
//  3. Startup: Serve() runs everything concurrently
//  4. Shutdown: context cancellation or the first failure stops everything,
//     then open transactions are rolled back
//
// Example usage:
//
//	srv := server.New(backend, 30*time.Second)
//	_ = srv.AddAdapter(http.New(httpConfig))
//	srv.AddService(scheduler)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
type AFSServer struct {
	backend         adapter.Backend
	shutdownTimeout time.Duration

	mu       sync.RWMutex
	adapters []adapter.Adapter
	services []Service
	served   bool
}

// New creates a server around backend. A zero shutdownTimeout selects
// DefaultShutdownTimeout.
//
// Panics if backend has no API server (programmer error).
func New(backend adapter.Backend, shutdownTimeout time.Duration) *AFSServer {
	if backend.API == nil {
		panic("api server cannot be nil")
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &AFSServer{
		backend:         backend,
		shutdownTimeout: shutdownTimeout,
		adapters:        make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter injects the backend into a and registers it.
//
// Two adapters may not share a protocol, nor a fixed port. Panics if a is
// nil or Serve has already been called.
func (s *AFSServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetBackend(s.backend)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// AddService registers a background service. Panics after Serve.
func (s *AFSServer) AddService(svc Service) {
	if svc == nil {
		panic("service cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add service after Serve() has been called")
	}
	s.services = append(s.services, svc)
	logger.Debug("Registered %s service", svc.Name())
}

// Serve runs every adapter and service until ctx is cancelled or one of
// them fails. It returns nil after a shutdown caused by ctx, otherwise the
// first failure. Open transactions are rolled back before it returns;
// prepared ones stay on disk for the coordinator.
func (s *AFSServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server is already serving")
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	s.served = true
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	services := append([]Service(nil), s.services...)
	s.mu.Unlock()

	logger.Info("Starting AFS server with %d adapter(s) and %d service(s)", len(adapters), len(services))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			if err := a.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				return fmt.Errorf("%s adapter error: %w", a.Protocol(), err)
			}
			logger.Debug("%s adapter stopped", a.Protocol())
			return nil
		})
	}
	for _, svc := range services {
		g.Go(func() error {
			if err := svc.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("%s service failed: %v", svc.Name(), err)
				return fmt.Errorf("%s service error: %w", svc.Name(), err)
			}
			logger.Debug("%s service stopped", svc.Name())
			return nil
		})
	}

	// gctx is also cancelled once Wait returns.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-gctx.Done()
		logger.Info("Shutdown signal received (reason: %v)", context.Cause(gctx))
		s.stopAll(adapters, services)
	}()

	logger.Debug("All adapters and services launched in %v", time.Since(start))
	err := g.Wait()
	<-stopped

	closeCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if closeErr := s.backend.API.Close(closeCtx); closeErr != nil {
		logger.Error("Failed to close API sessions: %v", closeErr)
		if err == nil {
			err = closeErr
		}
	}

	if err != nil {
		return err
	}
	logger.Info("AFS server stopped gracefully")
	return nil
}

// stopAll stops adapters in reverse registration order, then services.
// Errors are logged; the remaining components are still stopped.
func (s *AFSServer) stopAll(adapters []adapter.Adapter, services []Service) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))
	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s service: %v", svc.Name(), err)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *AFSServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}
