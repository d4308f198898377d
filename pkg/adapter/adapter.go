// Package adapter defines the lifecycle contract of the transports that
// expose the file store.
package adapter

import (
	"context"

	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/marmos91/afs/pkg/worker"
)

// Backend is what every adapter serves.
type Backend struct {
	// API processes file store requests.
	API *api.Server

	// Guard authenticates requests that bypass the API server.
	Guard *worker.Guard

	// Index serves path index listings. Nil when the index is disabled.
	Index pathinfo.Reader
}

// Adapter is a transport managed by the AFS server.
//
// Lifecycle:
//  1. Creation with transport-specific configuration
//  2. SetBackend provides the shared API server and path index
//  3. Serve starts the transport and blocks until shutdown
//  4. Stop initiates graceful shutdown
//
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Serve starts the transport and blocks until ctx is cancelled or an
	// unrecoverable error occurs. A Serve that returns before ctx is
	// cancelled stops the whole server.
	Serve(ctx context.Context) error

	// SetBackend is called exactly once, before Serve.
	SetBackend(b Backend)

	// Stop shuts the transport down, bounded by ctx.
	Stop(ctx context.Context) error

	// Protocol returns the transport name for logs and metrics.
	Protocol() string

	// Port returns the port the adapter listens on, or 0 before Serve.
	Port() int
}
