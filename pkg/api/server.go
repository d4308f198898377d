package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/metrics"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/marmos91/afs/pkg/txn"
	"github.com/marmos91/afs/pkg/worker"
)

const (
	DefaultSessionTimeout = time.Hour
	DefaultMaxSessions    = 10000
	DefaultMaxReadSize    = 10 << 20
)

// Config configures a Server.
type Config struct {
	// InteractiveSessionKey selects one-phase mode when a request carries it.
	InteractiveSessionKey string

	// TransactionManagerKey selects two-phase mode when a request carries it.
	TransactionManagerKey string

	// SessionTimeout is how long an idle one-phase session keeps its
	// transaction before it is rolled back.
	SessionTimeout time.Duration

	// MaxSessions bounds the number of one-phase sessions. The least
	// recently used session is rolled back when the bound is hit.
	MaxSessions int

	// MaxReadSize bounds the limit of a single read call.
	MaxReadSize int
}

// Server processes API requests.
type Server struct {
	cfg     Config
	txm     *txn.Manager
	layout  storage.Layout
	guard   *worker.Guard
	chain   *Chain
	metrics metrics.APIMetrics

	mu           sync.Mutex
	sessions     *expirable.LRU[string, *worker.Worker]
	transactions map[uuid.UUID]*worker.Worker
}

// NewServer creates a server. A nil chain runs no observers; nil metrics
// record nothing.
func NewServer(txm *txn.Manager, layout storage.Layout, guard *worker.Guard, chain *Chain, m metrics.APIMetrics, cfg Config) *Server {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxReadSize <= 0 {
		cfg.MaxReadSize = DefaultMaxReadSize
	}
	if chain == nil {
		chain = NewChain()
	}
	if m == nil {
		m = metrics.NewNoopAPIMetrics()
	}

	s := &Server{
		cfg:          cfg,
		txm:          txm,
		layout:       layout,
		guard:        guard,
		chain:        chain,
		metrics:      m,
		transactions: make(map[uuid.UUID]*worker.Worker),
	}
	s.sessions = expirable.NewLRU[string, *worker.Worker](cfg.MaxSessions, s.onSessionEvicted, cfg.SessionTimeout)
	return s
}

// Process runs one request and returns its result.
func (s *Server) Process(ctx context.Context, req *Request) (result any, err error) {
	start := time.Now()

	mode, err := s.mode(req)
	defer func() {
		s.metrics.RecordCall(string(req.Method), mode.String(), time.Since(start), err)
	}()
	if err != nil {
		return nil, err
	}

	if req.Method == MethodIsSessionValid {
		return s.isSessionValid(ctx, req.SessionToken)
	}

	info, ok := dispatchTable[req.Method]
	if !ok {
		return nil, afs.NewInvalidPathError(string(req.Method), "unknown method")
	}
	if req.Method == MethodRead && req.Params.Limit > s.cfg.MaxReadSize {
		return nil, afs.NewInvalidPathError(req.Params.Source,
			fmt.Sprintf("read limit %d exceeds the maximum of %d bytes", req.Params.Limit, s.cfg.MaxReadSize))
	}
	if err := s.guard.Authenticate(ctx, req.SessionToken); err != nil {
		return nil, err
	}

	w, err := s.worker(mode, req)
	if err != nil {
		return nil, err
	}

	w.Lock()
	defer w.Unlock()
	defer s.release(w, req)

	if mode == worker.TwoPhase && w.State() == txn.StateNew && req.Method != MethodBegin && req.Method != MethodRecover {
		// A prepared transaction left over from before a restart.
		if err := w.Begin(ctx, req.Params.TransactionID); err != nil {
			return nil, err
		}
	}

	call := &Call{Request: req, Worker: w}
	if info.Access != nil {
		if err := s.authorize(ctx, call, info.Access(req.Params)); err != nil {
			return nil, err
		}
	}

	if mode == worker.NonTransactional {
		result, err = s.runInBracket(ctx, call, info)
	} else {
		result, err = s.runInTransaction(ctx, call, info)
	}
	if err != nil {
		logger.Debug("%s %s failed in %s: %v", req.Method, w, time.Since(start), err)
		return nil, err
	}

	switch req.Method {
	case MethodRead:
		if data, ok := result.([]byte); ok {
			s.metrics.RecordBytes("read", int64(len(data)))
		}
	case MethodWrite:
		s.metrics.RecordBytes("write", int64(len(req.Params.Data)))
	}
	return result, nil
}

// mode selects the transaction mode from the keys the request carries.
func (s *Server) mode(req *Request) (worker.Mode, error) {
	if req.TransactionManagerKey != "" {
		if !keyMatches(req.TransactionManagerKey, s.cfg.TransactionManagerKey) {
			return worker.TwoPhase, afs.NewError(afs.ErrPermissionDenied, "invalid transaction manager key", "")
		}
		if req.Method != MethodRecover && req.Method != MethodIsSessionValid && req.Params.TransactionID == uuid.Nil {
			return worker.TwoPhase, afs.NewInvalidPathError("transactionId", "transaction id is required")
		}
		return worker.TwoPhase, nil
	}
	if req.InteractiveSessionKey != "" {
		if !keyMatches(req.InteractiveSessionKey, s.cfg.InteractiveSessionKey) {
			return worker.OnePhase, afs.NewError(afs.ErrPermissionDenied, "invalid interactive session key", "")
		}
		return worker.OnePhase, nil
	}
	return worker.NonTransactional, nil
}

func keyMatches(given, configured string) bool {
	return configured != "" && subtle.ConstantTimeCompare([]byte(given), []byte(configured)) == 1
}

func (s *Server) isSessionValid(ctx context.Context, token string) (bool, error) {
	err := s.guard.Authenticate(ctx, token)
	if afs.IsCode(err, afs.ErrSessionExpired) {
		return false, nil
	}
	return err == nil, err
}

// worker returns the worker that runs req.
func (s *Server) worker(mode worker.Mode, req *Request) (*worker.Worker, error) {
	switch mode {
	case worker.OnePhase:
		s.mu.Lock()
		defer s.mu.Unlock()

		w, ok := s.sessions.Get(req.SessionToken)
		if !ok {
			w = worker.New(worker.OnePhase, req.SessionToken, s.txm, s.layout)
		}
		// Re-adding restarts the idle timeout.
		s.sessions.Add(req.SessionToken, w)
		s.metrics.SetActiveTransactions(mode.String(), s.sessions.Len())
		return w, nil

	case worker.TwoPhase:
		if req.Method == MethodRecover {
			return worker.New(worker.TwoPhase, req.SessionToken, s.txm, s.layout), nil
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		id := req.Params.TransactionID
		if w, ok := s.transactions[id]; ok {
			return w, nil
		}
		if req.Method != MethodBegin && !s.txm.IsPrepared(id) {
			return nil, afs.NewNotFoundError(id.String(), "transaction")
		}
		w := worker.New(worker.TwoPhase, req.SessionToken, s.txm, s.layout)
		s.transactions[id] = w
		s.metrics.SetActiveTransactions(mode.String(), len(s.transactions))
		return w, nil

	default:
		return worker.New(worker.NonTransactional, req.SessionToken, s.txm, s.layout), nil
	}
}

// release forgets two-phase workers whose transaction is over.
func (s *Server) release(w *worker.Worker, req *Request) {
	if w.Mode() != worker.TwoPhase || req.Method == MethodRecover {
		return
	}
	if st := w.State(); st == txn.StateActive || st == txn.StatePrepared {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transactions[req.Params.TransactionID] == w {
		delete(s.transactions, req.Params.TransactionID)
		s.metrics.SetActiveTransactions(worker.TwoPhase.String(), len(s.transactions))
	}
}

// authorize checks the session's rights on every owner the call touches.
// Owners the entity system already placed are pinned to that placement.
func (s *Server) authorize(ctx context.Context, call *Call, grants []grant) error {
	w := call.Worker
	for _, g := range grants {
		rights, err := s.guard.Authorize(ctx, call.Request.SessionToken, g.Owner, g.Perms...)
		if err != nil {
			return err
		}
		if ds := rights.DataSet; ds != nil && !w.IsRegistered(g.Owner) {
			w.SetPlacement(g.Owner, storage.Placement{ShareID: ds.ShareID, Location: ds.Location})
			w.MarkRegistered(g.Owner)
		}
	}
	return nil
}

// runInBracket runs a non-transactional call in its own transaction.
func (s *Server) runInBracket(ctx context.Context, call *Call, info *methodInfo) (any, error) {
	if info.Control {
		return nil, afs.NewInvalidStateError(string(call.Method()) + " requires an interactive session or a transaction manager")
	}
	if err := s.chain.Before(ctx, call); err != nil {
		return nil, err
	}

	w := call.Worker
	if err := w.Begin(ctx, uuid.New()); err != nil {
		return nil, err
	}
	result, err := s.chain.During(ctx, call, func() (any, error) {
		return info.Handler(ctx, call)
	})
	if err != nil {
		_ = w.Rollback(ctx)
		return nil, err
	}
	if err := w.Commit(ctx); err != nil {
		_ = w.Rollback(ctx)
		return nil, err
	}

	if err := s.chain.After(ctx, call, result); err != nil {
		return nil, err
	}
	return result, nil
}

// runInTransaction runs a call inside the worker's open transaction.
func (s *Server) runInTransaction(ctx context.Context, call *Call, info *methodInfo) (any, error) {
	if err := s.chain.Before(ctx, call); err != nil {
		return nil, err
	}
	result, err := s.chain.During(ctx, call, func() (any, error) {
		return info.Handler(ctx, call)
	})
	if err != nil {
		return nil, err
	}
	if err := s.chain.After(ctx, call, result); err != nil {
		if call.Worker.Mode() == worker.TwoPhase {
			call.Worker.Fail(err)
		}
		return nil, err
	}
	return result, nil
}

func (s *Server) onSessionEvicted(token string, w *worker.Worker) {
	go func() {
		w.Lock()
		defer w.Unlock()
		if st := w.State(); st == txn.StateActive {
			logger.Info("Session %s expired, rolling back transaction %s", abbreviate(token), w.TransactionID())
		}
		_ = w.Rollback(context.Background())
	}()
}

// Close rolls back the open one-phase transactions and the two-phase
// transactions that were not prepared. Prepared transactions stay on disk
// for the coordinator to resolve after a restart.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions.Values()
	var transactions []*worker.Worker
	for _, w := range s.transactions {
		transactions = append(transactions, w)
	}
	s.mu.Unlock()

	for _, w := range sessions {
		w.Lock()
		err := w.Rollback(ctx)
		w.Unlock()
		if err != nil {
			logger.Warn("Failed to roll back %s: %v", w, err)
		}
	}
	for _, w := range transactions {
		w.Lock()
		if w.State() == txn.StateActive {
			if err := w.Rollback(ctx); err != nil {
				logger.Warn("Failed to roll back %s: %v", w, err)
			}
		}
		w.Unlock()
	}

	s.sessions.Purge()
	return nil
}

// abbreviate shortens a session token for logs.
func abbreviate(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
