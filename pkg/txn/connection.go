package txn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/spf13/afero"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateNew State = iota
	StateActive
	StatePrepared
	StateCommitted
	StateRolledBack
	// StateFailed means a commit stopped part way. Operations applied before
	// the failure stay applied.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is a file or directory returned by List. Path is storage-relative.
type Entry struct {
	Path      string
	Name      string
	Directory bool
	Size      int64
	ModTime   time.Time
}

type pathSet map[string]struct{}

func (s pathSet) add(p string) {
	s[p] = struct{}{}
}

func (s pathSet) has(p string) bool {
	_, ok := s[p]
	return ok
}

// Connection runs one transaction at a time. It is reusable once the
// transaction is committed, rolled back or failed.
//
// A Connection is not safe for concurrent use.
type Connection struct {
	m     *Manager
	id    uuid.UUID
	state State
	ops   []Operation

	written     pathSet
	deleted     pathSet
	moved       pathSet
	copied      pathSet
	created     pathSet
	createdDirs pathSet
}

func (c *Connection) reset() {
	c.id = uuid.Nil
	c.ops = nil
	c.written = pathSet{}
	c.deleted = pathSet{}
	c.moved = pathSet{}
	c.copied = pathSet{}
	c.created = pathSet{}
	c.createdDirs = pathSet{}
}

// ID returns the current transaction id.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// State returns the connection state.
func (c *Connection) State() State {
	return c.state
}

// Operations returns a copy of the recorded operations.
func (c *Connection) Operations() []Operation {
	return append([]Operation(nil), c.ops...)
}

func (c *Connection) owner() string {
	return c.id.String()
}

// Begin starts transaction id. If id is a prepared transaction waiting for
// a decision, the connection takes it over in the prepared state.
func (c *Connection) Begin(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.state == StateActive || c.state == StatePrepared {
		return afs.NewInvalidStateError(fmt.Sprintf("transaction %s is still %s", c.id, c.state))
	}

	c.reset()
	if c.m.adopt(id, c) {
		logger.Debug("Transaction %s resumed in prepared state", id)
		return nil
	}

	dir := c.m.txDir(id)
	exists, err := afero.Exists(c.m.fs, dir)
	if err != nil {
		return afs.NewStorageError(err, dir)
	}
	if exists {
		return afs.NewError(afs.ErrAlreadyExists, "transaction already exists", id.String())
	}
	if err := c.m.fs.MkdirAll(dir, 0755); err != nil {
		return afs.NewStorageError(err, dir)
	}

	c.id = id
	c.state = StateActive
	return nil
}

// Prepare persists the operation list and keeps the locks until Commit or
// Rollback, including across a restart.
func (c *Connection) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.state != StateActive {
		return afs.NewInvalidStateError(fmt.Sprintf("can't prepare a %s transaction", c.state))
	}
	if err := writeLog(c.m.fs, c.m.txDir(c.id), preparedLogName, c.log()); err != nil {
		return afs.NewStorageError(err, c.m.txDir(c.id))
	}
	c.state = StatePrepared
	c.m.registerPrepared(c)
	return nil
}

// Commit persists the committed log and applies the operations in order.
//
// If applying fails part way the earlier operations stay applied, the
// connection moves to StateFailed and a StorageFailure is returned.
func (c *Connection) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.state != StateActive && c.state != StatePrepared {
		return afs.NewInvalidStateError(fmt.Sprintf("can't commit a %s transaction", c.state))
	}

	if err := writeLog(c.m.fs, c.m.txDir(c.id), committedLogName, c.log()); err != nil {
		return afs.NewStorageError(err, c.m.txDir(c.id))
	}

	if err := c.apply(); err != nil {
		c.cleanup()
		c.state = StateFailed
		return err
	}

	c.cleanup()
	c.state = StateCommitted
	return nil
}

// Rollback discards staged data and releases locks. It is a no-op unless a
// transaction is active or prepared.
func (c *Connection) Rollback(ctx context.Context) error {
	if c.state != StateActive && c.state != StatePrepared {
		return nil
	}
	c.cleanup()
	c.state = StateRolledBack
	return nil
}

func (c *Connection) cleanup() {
	dir := c.m.txDir(c.id)
	if err := c.m.fs.RemoveAll(dir); err != nil {
		logger.Error("Failed to remove transaction directory %s: %v", dir, err)
	}
	c.m.locks.UnlockAll(c.owner())
	c.m.unregisterPrepared(c.id)
}

func (c *Connection) apply() error {
	for i, op := range c.ops {
		if err := c.m.apply(c.id, op); err != nil {
			if i > 0 {
				logger.Warn("Transaction %s stopped at operation %d of %d (%s %s), %d operation(s) already applied: %v",
					c.id, i+1, len(c.ops), op.Type, op.Source, i, err)
			}
			return afs.Wrap(afs.ErrStorageFailure, err, fmt.Sprintf("failed to apply %s", op.Type), op.Source)
		}
	}
	return nil
}

func (c *Connection) log() transactionLog {
	return transactionLog{ID: c.id, Operations: c.ops}
}

//
// Operations
//

// List returns source itself when it is a file, otherwise its children,
// or all descendants when recursive.
func (c *Connection) List(ctx context.Context, source string, recursive bool) ([]Entry, error) {
	source, err := c.checkRead(ctx, source)
	if err != nil {
		return nil, err
	}

	release, err := c.readLock(source)
	if err != nil {
		return nil, err
	}
	defer release()

	info, err := c.m.Stat(source)
	if err != nil {
		return nil, c.statError(err, source)
	}
	if !info.IsDir() {
		return []Entry{entryOf(source, info)}, nil
	}

	var entries []Entry
	if !recursive {
		infos, err := afero.ReadDir(c.m.fs, c.m.abs(source))
		if err != nil {
			return nil, afs.NewStorageError(err, source)
		}
		for _, fi := range infos {
			entries = append(entries, entryOf(path.Join(source, fi.Name()), fi))
		}
		return entries, nil
	}

	root := c.m.abs(source)
	err = afero.Walk(c.m.fs, root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel := filepath.ToSlash(strings.TrimPrefix(p, root))
		entries = append(entries, entryOf(path.Join(source, rel), fi))
		return nil
	})
	if err != nil {
		return nil, afs.NewStorageError(err, source)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Read returns up to limit bytes of source starting at offset. Reading past
// the end yields a short or empty result.
func (c *Connection) Read(ctx context.Context, source string, offset int64, limit int) ([]byte, error) {
	if offset < 0 || limit < 0 {
		return nil, afs.NewInvalidPathError(source, "offset and limit must not be negative")
	}
	source, err := c.checkRead(ctx, source)
	if err != nil {
		return nil, err
	}

	release, err := c.readLock(source)
	if err != nil {
		return nil, err
	}
	defer release()

	info, err := c.m.Stat(source)
	if err != nil {
		return nil, c.statError(err, source)
	}
	if info.IsDir() {
		return nil, afs.NewInvalidPathError(source, "path is a directory")
	}

	// Never allocate past the end of the file
	remaining := info.Size() - offset
	if remaining <= 0 || limit == 0 {
		return []byte{}, nil
	}
	if int64(limit) > remaining {
		limit = int(remaining)
	}

	f, err := c.m.fs.Open(c.m.abs(source))
	if err != nil {
		return nil, afs.NewStorageError(err, source)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, limit)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, afs.NewStorageError(err, source)
	}
	return buf[:n], nil
}

// Write stages data to be written at offset on commit. Missing parents of
// source are created on commit.
func (c *Connection) Write(ctx context.Context, source string, offset int64, data []byte) error {
	if offset < 0 {
		return afs.NewInvalidPathError(source, "offset must not be negative")
	}
	source, err := c.checkWrite(ctx, source)
	if err != nil {
		return err
	}
	isDir, err := c.IsDirectory(source)
	if err != nil {
		return err
	}
	if isDir {
		return afs.NewInvalidPathError(source, "path is a directory")
	}

	op := Operation{
		Type:   OpWrite,
		Source: source,
		Offset: offset,
		Length: int64(len(data)),
		Staged: fmt.Sprintf("%d.data", len(c.ops)),
	}
	if err := c.lock(op); err != nil {
		return err
	}
	staged := filepath.Join(c.m.txDir(c.id), op.Staged)
	if err := afero.WriteFile(c.m.fs, staged, data, 0644); err != nil {
		_ = c.m.locks.Unlock(op.Locks(c.owner())...)
		return afs.NewStorageError(err, source)
	}

	c.ops = append(c.ops, op)
	c.written.add(source)
	c.markCreated(source, false)
	return nil
}

// Create records the creation of an empty file or a directory, including
// any missing parents.
func (c *Connection) Create(ctx context.Context, source string, directory bool) error {
	source, err := c.checkWrite(ctx, source)
	if err != nil {
		return err
	}
	exists, err := c.Exists(source)
	if err != nil {
		return err
	}
	if exists {
		return afs.NewError(afs.ErrAlreadyExists, "path already exists", source)
	}

	op := Operation{Type: OpCreate, Source: source, Directory: directory}
	if err := c.lock(op); err != nil {
		return err
	}
	c.ops = append(c.ops, op)
	c.written.add(source)
	c.markCreated(source, directory)
	return nil
}

// Copy records a recursive copy of source to a new target path.
func (c *Connection) Copy(ctx context.Context, source, target string) error {
	source, target, err := c.checkTransfer(ctx, source, target)
	if err != nil {
		return err
	}
	op := Operation{Type: OpCopy, Source: source, Target: target}
	if err := c.lock(op); err != nil {
		return err
	}
	c.ops = append(c.ops, op)
	c.copied.add(target)
	return nil
}

// Move records a rename of source to a new target path.
func (c *Connection) Move(ctx context.Context, source, target string) error {
	source, target, err := c.checkTransfer(ctx, source, target)
	if err != nil {
		return err
	}
	op := Operation{Type: OpMove, Source: source, Target: target}
	if err := c.lock(op); err != nil {
		return err
	}
	c.ops = append(c.ops, op)
	c.moved.add(source)
	c.moved.add(target)
	return nil
}

// Delete records the recursive removal of source.
func (c *Connection) Delete(ctx context.Context, source string) error {
	source, err := c.checkWrite(ctx, source)
	if err != nil {
		return err
	}
	if source == "/" {
		return afs.NewInvalidPathError(source, "can't delete the storage root")
	}
	exists, err := c.Exists(source)
	if err != nil {
		return err
	}
	if !exists {
		return afs.NewNotFoundError(source, "path")
	}

	op := Operation{Type: OpDelete, Source: source}
	if err := c.lock(op); err != nil {
		return err
	}
	c.ops = append(c.ops, op)
	c.deleted.add(source)
	return nil
}

// Free reports the capacity of the volume holding source.
func (c *Connection) Free(ctx context.Context, source string) (afs.FreeSpace, error) {
	source, err := c.checkRead(ctx, source)
	if err != nil {
		return afs.FreeSpace{}, err
	}
	return c.m.Free(source)
}

// Exists reports whether source exists as seen from inside the transaction:
// on disk or created by an earlier operation.
func (c *Connection) Exists(source string) (bool, error) {
	if c.created.has(source) {
		return true, nil
	}
	exists, err := c.m.Exists(source)
	if err != nil {
		return false, afs.NewStorageError(err, source)
	}
	return exists, nil
}

// IsDirectory reports whether source is a directory as seen from inside
// the transaction.
func (c *Connection) IsDirectory(source string) (bool, error) {
	if c.createdDirs.has(source) {
		return true, nil
	}
	info, err := c.m.Stat(source)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, afs.NewStorageError(err, source)
	}
	return info.IsDir(), nil
}

//
// Validation
//

func (c *Connection) checkActive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.state != StateActive {
		return afs.NewInvalidStateError(fmt.Sprintf("operations can't be added to a %s transaction", c.state))
	}
	return nil
}

func (c *Connection) checkRead(ctx context.Context, source string) (string, error) {
	source, _, err := c.checkPaths(ctx, source, "")
	if err != nil {
		return "", err
	}
	for _, p := range lineage(source) {
		if c.written.has(p) {
			return "", afs.NewConflictError(p, "path can't be read after being written in the same transaction")
		}
	}
	return source, nil
}

func (c *Connection) checkWrite(ctx context.Context, source string) (string, error) {
	source, _, err := c.checkPaths(ctx, source, "")
	return source, err
}

func (c *Connection) checkTransfer(ctx context.Context, source, target string) (string, string, error) {
	source, target, err := c.checkPaths(ctx, source, target)
	if err != nil {
		return "", "", err
	}
	if source == target || afs.IsAncestor(source, target) {
		return "", "", afs.NewInvalidPathError(target, "target can't be inside the source")
	}

	exists, err := c.Exists(source)
	if err != nil {
		return "", "", err
	}
	if !exists {
		return "", "", afs.NewNotFoundError(source, "source")
	}
	exists, err = c.Exists(target)
	if err != nil {
		return "", "", err
	}
	if exists {
		return "", "", afs.NewError(afs.ErrAlreadyExists, "target already exists", target)
	}
	return source, target, nil
}

// checkPaths normalizes both paths and rejects paths, or descendants of
// paths, that earlier operations deleted, moved or copied onto.
func (c *Connection) checkPaths(ctx context.Context, source, target string) (string, string, error) {
	if err := c.checkActive(ctx); err != nil {
		return "", "", err
	}

	source, err := afs.NormalizePath(source)
	if err != nil {
		return "", "", err
	}
	if err := c.checkFinal(source); err != nil {
		return "", "", err
	}

	if target != "" {
		if target, err = afs.NormalizePath(target); err != nil {
			return "", "", err
		}
		if err := c.checkFinal(target); err != nil {
			return "", "", err
		}
	}
	return source, target, nil
}

func (c *Connection) checkFinal(p string) error {
	for _, q := range lineage(p) {
		switch {
		case c.deleted.has(q):
			return afs.NewConflictError(q, "path can't be used after being deleted in the same transaction")
		case c.moved.has(q):
			return afs.NewConflictError(q, "path can't be used after being moved in the same transaction")
		case c.copied.has(q):
			return afs.NewConflictError(q, "path can't be used after being copied to in the same transaction")
		}
	}
	return nil
}

// lock acquires the locks an operation keeps until the transaction ends.
func (c *Connection) lock(op Operation) error {
	if !c.m.locks.TryLock(op.Locks(c.owner())...) {
		return afs.NewConflictError(op.Source, "path is busy")
	}
	return nil
}

// readLock holds a shared lock for the duration of a read.
func (c *Connection) readLock(source string) (func(), error) {
	l := readLock(c.owner(), source)
	if !c.m.locks.TryLock(l) {
		return nil, afs.NewConflictError(source, "path is busy")
	}
	return func() { _ = c.m.locks.Unlock(l) }, nil
}

func (c *Connection) markCreated(source string, directory bool) {
	c.created.add(source)
	if directory {
		c.createdDirs.add(source)
	}
	for p := path.Dir(source); p != "/"; p = path.Dir(p) {
		c.created.add(p)
		c.createdDirs.add(p)
	}
}

func (c *Connection) statError(err error, source string) error {
	if errors.Is(err, os.ErrNotExist) {
		return afs.NewNotFoundError(source, "path")
	}
	return afs.NewStorageError(err, source)
}

// lineage returns p followed by each of its ancestors up to "/".
func lineage(p string) []string {
	out := []string{p}
	for p != "/" {
		p = path.Dir(p)
		out = append(out, p)
	}
	return out
}

func entryOf(p string, fi os.FileInfo) Entry {
	return Entry{
		Path:      p,
		Name:      fi.Name(),
		Directory: fi.IsDir(),
		Size:      fi.Size(),
		ModTime:   fi.ModTime(),
	}
}
