// Package txn implements transactional file operations over the storage
// root with a write-ahead log.
//
// A Connection records mutating operations under path locks and applies
// them only on commit. Before applying, the operation list is written to
// <walRoot>/<transactionId>/transaction-committed.json so an interrupted
// commit is replayed on the next start. Two-phase transactions also write
// transaction-prepared.json on prepare; such transactions survive a restart
// holding their locks until the coordinator commits or rolls them back.
package txn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/spf13/afero"
)

// Config configures a Manager.
type Config struct {
	// StorageRoot is the OS directory holding owner data.
	StorageRoot string

	// WALRoot is the OS directory holding transaction logs and staged writes.
	WALRoot string

	// Space reports volume capacity for free-space queries.
	Space storage.SpaceProbe

	// Volumes, when set, is used to require StorageRoot and WALRoot to share
	// a volume so staged data can be renamed into place.
	Volumes storage.VolumeProbe
}

// RecoveryStats summarizes a Recover run.
type RecoveryStats struct {
	Committed int
	Pending   int
	Discarded int
	Failed    int
}

// Manager owns the storage and log roots and hands out connections.
type Manager struct {
	fs          afero.Fs
	storageRoot string
	walRoot     string
	locks       *lock.Manager
	space       storage.SpaceProbe

	mu       sync.Mutex
	prepared map[uuid.UUID]*Connection
}

// NewManager creates missing roots and validates the configuration.
// Call Recover before handing out connections.
func NewManager(fs afero.Fs, locks *lock.Manager, cfg Config) (*Manager, error) {
	if cfg.StorageRoot == "" || cfg.WALRoot == "" {
		return nil, errors.New("storage root and write-ahead log root are required")
	}
	if cfg.Space == nil {
		cfg.Space = storage.OSProbe{}
	}

	for _, root := range []string{cfg.StorageRoot, cfg.WALRoot} {
		if _, err := fs.Stat(root); errors.Is(err, os.ErrNotExist) {
			logger.Info("Directory %s missing, creating it", root)
		}
		if err := fs.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", root, err)
		}
	}

	if cfg.Volumes != nil {
		same, err := cfg.Volumes.SameVolume(cfg.StorageRoot, cfg.WALRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to compare volumes: %w", err)
		}
		if !same {
			return nil, fmt.Errorf("storage root %s and write-ahead log root %s are on different volumes",
				cfg.StorageRoot, cfg.WALRoot)
		}
	}

	return &Manager{
		fs:          fs,
		storageRoot: filepath.Clean(cfg.StorageRoot),
		walRoot:     filepath.Clean(cfg.WALRoot),
		locks:       locks,
		space:       cfg.Space,
		prepared:    make(map[uuid.UUID]*Connection),
	}, nil
}

// NewConnection returns an idle connection. Call Begin to start a transaction.
func (m *Manager) NewConnection() *Connection {
	c := &Connection{m: m}
	c.reset()
	return c
}

// Locks returns the lock manager shared by all connections.
func (m *Manager) Locks() *lock.Manager {
	return m.locks
}

// Recover replays committed logs and re-acquires the locks of prepared
// transactions found under the log root. Directories without a log are
// removed. Failures on one transaction do not stop the others.
func (m *Manager) Recover(ctx context.Context) (RecoveryStats, error) {
	var stats RecoveryStats

	entries, err := afero.ReadDir(m.fs, m.walRoot)
	if err != nil {
		return stats, fmt.Errorf("failed to list %s: %w", m.walRoot, err)
	}

	logger.Info("Transaction recovery started, %d candidate(s)", len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			logger.Warn("Ignoring unexpected entry %s in write-ahead log root", entry.Name())
			continue
		}

		outcome, err := m.recoverOne(ctx, id)
		if err != nil {
			stats.Failed++
			logger.Error("Transaction %s failed recovery: %v", id, err)
			continue
		}
		switch outcome {
		case StateCommitted:
			stats.Committed++
		case StatePrepared:
			stats.Pending++
		default:
			stats.Discarded++
		}
	}

	logger.Info("Transaction recovery finished: committed=%d pending=%d discarded=%d failed=%d",
		stats.Committed, stats.Pending, stats.Discarded, stats.Failed)
	return stats, nil
}

func (m *Manager) recoverOne(ctx context.Context, id uuid.UUID) (State, error) {
	dir := m.txDir(id)

	committed, err := readLog(m.fs, dir, committedLogName)
	if err != nil {
		return StateNew, err
	}
	if committed != nil {
		c, err := m.restore(id, committed.Operations)
		if err != nil {
			return StateNew, err
		}
		logger.Info("Transaction %s committed before shutdown, replaying %d operation(s)", id, len(c.ops))
		if err := c.apply(); err != nil {
			return StateNew, err
		}
		c.cleanup()
		c.state = StateCommitted
		return StateCommitted, nil
	}

	prepared, err := readLog(m.fs, dir, preparedLogName)
	if err != nil {
		return StateNew, err
	}
	if prepared != nil {
		c, err := m.restore(id, prepared.Operations)
		if err != nil {
			return StateNew, err
		}
		m.registerPrepared(c)
		logger.Info("Transaction %s prepared before shutdown, waiting for commit or rollback", id)
		return StatePrepared, nil
	}

	logger.Info("Transaction %s never prepared, discarding %s", id, dir)
	if err := m.fs.RemoveAll(dir); err != nil {
		return StateNew, err
	}
	return StateRolledBack, nil
}

// restore rebuilds a prepared connection from a log and re-acquires its locks.
func (m *Manager) restore(id uuid.UUID, ops []Operation) (*Connection, error) {
	c := m.NewConnection()
	c.id = id
	c.ops = ops
	c.state = StatePrepared

	var locks []lock.Lock
	for _, op := range ops {
		locks = append(locks, op.Locks(c.owner())...)
	}
	if !m.locks.TryLock(locks...) {
		return nil, fmt.Errorf("locks of transaction %s are held by another owner", id)
	}
	return c, nil
}

// Recovered returns the ids of prepared transactions awaiting a decision,
// sorted.
func (m *Manager) Recovered() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(m.prepared))
	for id := range m.prepared {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// IsPrepared reports whether id is a prepared transaction awaiting a decision.
func (m *Manager) IsPrepared(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.prepared[id]
	return ok
}

func (m *Manager) registerPrepared(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared[c.id] = c
}

func (m *Manager) unregisterPrepared(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prepared, id)
}

// adopt hands a prepared transaction over to c.
func (m *Manager) adopt(id uuid.UUID, c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.prepared[id]
	if !ok {
		return false
	}
	c.id = id
	c.ops = prev.ops
	c.state = StatePrepared
	m.prepared[id] = c
	return true
}

// Stat returns file info for a storage-relative path.
func (m *Manager) Stat(p string) (os.FileInfo, error) {
	return m.fs.Stat(m.abs(p))
}

// Exists reports whether a storage-relative path exists on disk.
func (m *Manager) Exists(p string) (bool, error) {
	return afero.Exists(m.fs, m.abs(p))
}

// Free reports the capacity of the volume holding a storage-relative path.
func (m *Manager) Free(p string) (afs.FreeSpace, error) {
	return m.space.Free(m.abs(p))
}

func (m *Manager) abs(p string) string {
	return filepath.Join(m.storageRoot, filepath.FromSlash(p))
}

func (m *Manager) txDir(id uuid.UUID) string {
	return filepath.Join(m.walRoot, id.String())
}
