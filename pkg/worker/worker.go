// Package worker executes file operations for one session, one two-phase
// transaction or one non-transactional call.
//
// A Worker resolves owner-relative paths to storage paths, runs them through
// a txn.Connection and converts the results back. It also carries the
// bookkeeping the API observers need: which owners were registered with
// the entity system and which still wait for registration.
package worker

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/marmos91/afs/pkg/txn"
)

// Mode is the transaction mode a worker runs in.
type Mode int

const (
	// NonTransactional runs every call in its own begin/commit bracket.
	NonTransactional Mode = iota
	// OnePhase accumulates the calls of an interactive session until commit.
	OnePhase
	// TwoPhase runs a transaction driven by an external coordinator.
	TwoPhase
)

func (m Mode) String() string {
	switch m {
	case NonTransactional:
		return "none"
	case OnePhase:
		return "one-phase"
	case TwoPhase:
		return "two-phase"
	default:
		return "unknown"
	}
}

// Worker is a single execution context. Callers serialize access with
// Lock and Unlock; the methods themselves do not.
type Worker struct {
	mu sync.Mutex

	mode         Mode
	sessionToken string
	txm          *txn.Manager
	conn         *txn.Connection
	layout       storage.Layout

	placements map[string]storage.Placement
	registered map[string]bool
	pending    map[string]bool
	doomed     error
}

// New creates a worker for sessionToken.
func New(mode Mode, sessionToken string, txm *txn.Manager, layout storage.Layout) *Worker {
	return &Worker{
		mode:         mode,
		sessionToken: sessionToken,
		txm:          txm,
		conn:         txm.NewConnection(),
		layout:       layout,
		placements:   make(map[string]storage.Placement),
		registered:   make(map[string]bool),
		pending:      make(map[string]bool),
	}
}

func (w *Worker) Lock()   { w.mu.Lock() }
func (w *Worker) Unlock() { w.mu.Unlock() }

func (w *Worker) Mode() Mode {
	return w.mode
}

func (w *Worker) SessionToken() string {
	return w.sessionToken
}

// TransactionID returns the id of the current transaction, or uuid.Nil.
func (w *Worker) TransactionID() uuid.UUID {
	return w.conn.ID()
}

// State returns the state of the underlying connection.
func (w *Worker) State() txn.State {
	return w.conn.State()
}

// HasPendingOperations reports whether the current transaction recorded
// operations that are not applied yet.
func (w *Worker) HasPendingOperations() bool {
	s := w.conn.State()
	return (s == txn.StateActive || s == txn.StatePrepared) && len(w.conn.Operations()) > 0
}

//
// Owners
//

// SetPlacement pins owner to the share and location the entity system
// reports for its data set.
func (w *Worker) SetPlacement(owner string, p storage.Placement) {
	w.placements[owner] = p
}

// Placement returns where owner's files live.
func (w *Worker) Placement(owner string) storage.Placement {
	if p, ok := w.placements[owner]; ok {
		return p
	}
	return w.layout.Place(owner)
}

// OwnerExists reports whether owner has a folder on disk.
func (w *Worker) OwnerExists(owner string) (bool, error) {
	if err := afs.ValidateOwner(owner); err != nil {
		return false, err
	}
	exists, err := w.txm.Exists(w.Placement(owner).Path())
	if err != nil {
		return false, afs.NewStorageError(err, owner)
	}
	return exists, nil
}

func (w *Worker) IsRegistered(owner string) bool {
	return w.registered[owner]
}

func (w *Worker) MarkRegistered(owner string) {
	w.registered[owner] = true
	delete(w.pending, owner)
}

// AddPending records owner as waiting for data set registration.
func (w *Worker) AddPending(owner string) {
	if !w.registered[owner] {
		w.pending[owner] = true
	}
}

// TakePending returns and clears the owners waiting for registration.
func (w *Worker) TakePending() []string {
	owners := make([]string, 0, len(w.pending))
	for o := range w.pending {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	w.pending = make(map[string]bool)
	return owners
}

// Fail dooms the current transaction: Prepare and Commit roll it back and
// return err.
func (w *Worker) Fail(err error) {
	if w.doomed == nil {
		w.doomed = err
	}
}

//
// Transaction control
//

func (w *Worker) Begin(ctx context.Context, id uuid.UUID) error {
	if err := w.conn.Begin(ctx, id); err != nil {
		return err
	}
	w.doomed = nil
	w.pending = make(map[string]bool)
	return nil
}

func (w *Worker) Prepare(ctx context.Context) error {
	if err := w.checkDoomed(ctx); err != nil {
		return err
	}
	return w.conn.Prepare(ctx)
}

func (w *Worker) Commit(ctx context.Context) error {
	if err := w.checkDoomed(ctx); err != nil {
		return err
	}
	return w.conn.Commit(ctx)
}

func (w *Worker) Rollback(ctx context.Context) error {
	w.doomed = nil
	w.pending = make(map[string]bool)
	return w.conn.Rollback(ctx)
}

// Recover returns the prepared transactions awaiting a decision.
func (w *Worker) Recover(ctx context.Context) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.txm.Recovered(), nil
}

func (w *Worker) checkDoomed(ctx context.Context) error {
	if w.doomed == nil {
		return nil
	}
	err := w.doomed
	_ = w.Rollback(ctx)
	return afs.Wrap(afs.ErrInvalidState, err, "transaction was rolled back after a failed call", "")
}

//
// File operations
//

// resolve maps an owner-relative path to a storage path.
func (w *Worker) resolve(owner, source string) (string, error) {
	if err := afs.ValidateOwner(owner); err != nil {
		return "", err
	}
	rel, err := afs.NormalizePath(source)
	if err != nil {
		return "", err
	}
	return path.Join(w.Placement(owner).Path(), rel), nil
}

func (w *Worker) toFile(owner string, e txn.Entry) afs.File {
	root := w.Placement(owner).Path()
	rel := strings.TrimPrefix(e.Path, root)
	if rel == "" {
		rel = "/"
	}
	f := afs.File{
		Owner:            owner,
		Path:             rel,
		Name:             e.Name,
		Directory:        e.Directory,
		LastModifiedTime: e.ModTime,
	}
	if !e.Directory {
		size := e.Size
		f.Size = &size
	}
	return f
}

func (w *Worker) List(ctx context.Context, owner, source string, recursive bool) ([]afs.File, error) {
	p, err := w.resolve(owner, source)
	if err != nil {
		return nil, err
	}
	entries, err := w.conn.List(ctx, p, recursive)
	if err != nil {
		return nil, err
	}
	files := make([]afs.File, len(entries))
	for i, e := range entries {
		files[i] = w.toFile(owner, e)
	}
	return files, nil
}

func (w *Worker) Read(ctx context.Context, owner, source string, offset int64, limit int) ([]byte, error) {
	p, err := w.resolve(owner, source)
	if err != nil {
		return nil, err
	}
	return w.conn.Read(ctx, p, offset, limit)
}

// Write stages data for owner's file. The parent directory must exist or
// have been created earlier in the transaction, unless it is the owner
// root, which is created implicitly.
func (w *Worker) Write(ctx context.Context, owner, source string, offset int64, data []byte) error {
	p, err := w.resolve(owner, source)
	if err != nil {
		return err
	}
	root := w.Placement(owner).Path()
	if p == root {
		return afs.NewInvalidPathError(source, "can't write to the owner root")
	}
	if parent := path.Dir(p); parent != root {
		isDir, err := w.conn.IsDirectory(parent)
		if err != nil {
			return err
		}
		if !isDir {
			return afs.NewNotFoundError(path.Dir(source), "parent directory")
		}
	}
	return w.conn.Write(ctx, p, offset, data)
}

func (w *Worker) Create(ctx context.Context, owner, source string, directory bool) error {
	p, err := w.resolve(owner, source)
	if err != nil {
		return err
	}
	return w.conn.Create(ctx, p, directory)
}

func (w *Worker) Copy(ctx context.Context, sourceOwner, source, targetOwner, target string) error {
	from, to, err := w.resolvePair(sourceOwner, source, targetOwner, target)
	if err != nil {
		return err
	}
	return w.conn.Copy(ctx, from, to)
}

func (w *Worker) Move(ctx context.Context, sourceOwner, source, targetOwner, target string) error {
	from, to, err := w.resolvePair(sourceOwner, source, targetOwner, target)
	if err != nil {
		return err
	}
	return w.conn.Move(ctx, from, to)
}

func (w *Worker) resolvePair(sourceOwner, source, targetOwner, target string) (string, string, error) {
	from, err := w.resolve(sourceOwner, source)
	if err != nil {
		return "", "", err
	}
	to, err := w.resolve(targetOwner, target)
	if err != nil {
		return "", "", err
	}
	if to == w.Placement(targetOwner).Path() {
		return "", "", afs.NewInvalidPathError(target, "target can't be the owner root")
	}
	return from, to, nil
}

func (w *Worker) Delete(ctx context.Context, owner, source string) error {
	p, err := w.resolve(owner, source)
	if err != nil {
		return err
	}
	return w.conn.Delete(ctx, p)
}

// Free reports the capacity of the volume holding the nearest existing
// ancestor of the path.
func (w *Worker) Free(ctx context.Context, owner, source string) (afs.FreeSpace, error) {
	p, err := w.resolve(owner, source)
	if err != nil {
		return afs.FreeSpace{}, err
	}
	return w.conn.Free(ctx, p)
}

func (w *Worker) String() string {
	return fmt.Sprintf("worker(%s, tx=%s)", w.mode, w.conn.ID())
}
