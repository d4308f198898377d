package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/afs/pkg/metrics"
)

// grant is a held lock with its re-entry count.
type grant struct {
	lock  Lock
	count int
}

// Manager grants and releases path locks. It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	// grants indexed by resource path
	grants map[string][]*grant

	// released is closed and replaced every time locks are released,
	// waking blocked Lock calls
	released chan struct{}

	metrics metrics.LockMetrics
}

// NewManager creates an empty lock manager. m may be nil.
func NewManager(m metrics.LockMetrics) *Manager {
	if m == nil {
		m = metrics.NewNoopLockMetrics()
	}
	return &Manager{
		grants:   make(map[string][]*grant),
		released: make(chan struct{}),
		metrics:  m,
	}
}

// TryLock grants all locks or none, without blocking.
//
// Requests for locks the owner already holds succeed and are counted, so
// each successful TryLock must be matched by an Unlock.
func (m *Manager) TryLock(locks ...Lock) bool {
	locks = normalizeAll(locks)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available(locks) {
		m.metrics.RecordConflict()
		return false
	}
	m.grant(locks)
	m.metrics.RecordAcquired(false, 0)
	return true
}

// Lock blocks until all locks can be granted together, or ctx is done.
//
// Unlike TryLock it refuses requests overlapping locks the owner already
// holds and returns ErrReentrantLock.
func (m *Manager) Lock(ctx context.Context, locks ...Lock) error {
	locks = normalizeAll(locks)
	start := time.Now()

	for {
		m.mu.Lock()
		if m.reentrant(locks) {
			m.mu.Unlock()
			return ErrReentrantLock
		}
		if m.available(locks) {
			m.grant(locks)
			m.mu.Unlock()
			m.metrics.RecordAcquired(true, time.Since(start))
			return nil
		}
		wait := m.released
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unlock releases one grant of each lock. If any lock is not held nothing
// is released and ErrNotLocked is returned.
func (m *Manager) Unlock(locks ...Lock) error {
	locks = normalizeAll(locks)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range locks {
		if m.find(l) == nil {
			return ErrNotLocked
		}
	}
	for _, l := range locks {
		g := m.find(l)
		g.count--
		if g.count == 0 {
			m.remove(g)
		}
	}
	m.notify()
	return nil
}

// UnlockAll releases every lock held by owner and returns how many grants
// were dropped.
func (m *Manager) UnlockAll(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []*grant
	for _, gs := range m.grants {
		for _, g := range gs {
			if g.lock.Owner == owner {
				dropped = append(dropped, g)
			}
		}
	}
	for _, g := range dropped {
		m.remove(g)
	}
	if len(dropped) > 0 {
		m.notify()
	}
	return len(dropped)
}

// Held returns the locks currently held by owner, sorted by resource.
func (m *Manager) Held(owner string) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var held []Lock
	for _, gs := range m.grants {
		for _, g := range gs {
			if g.lock.Owner == owner {
				held = append(held, g.lock)
			}
		}
	}
	sort.Slice(held, func(i, j int) bool {
		if held[i].Resource != held[j].Resource {
			return held[i].Resource < held[j].Resource
		}
		return held[i].Type < held[j].Type
	})
	return held
}

// available must be called with mu held.
func (m *Manager) available(locks []Lock) bool {
	for _, r := range locks {
		for _, gs := range m.grants {
			for _, g := range gs {
				if conflicts(g.lock, r) {
					return false
				}
			}
		}
	}
	return true
}

// reentrant must be called with mu held.
func (m *Manager) reentrant(locks []Lock) bool {
	for _, r := range locks {
		for resource, gs := range m.grants {
			if !overlaps(resource, r.Resource) {
				continue
			}
			for _, g := range gs {
				if g.lock.Owner == r.Owner {
					return true
				}
			}
		}
	}
	return false
}

func (m *Manager) grant(locks []Lock) {
	for _, l := range locks {
		if g := m.find(l); g != nil {
			g.count++
			continue
		}
		m.grants[l.Resource] = append(m.grants[l.Resource], &grant{lock: l, count: 1})
	}
	m.metrics.SetHeld(m.size())
}

func (m *Manager) find(l Lock) *grant {
	for _, g := range m.grants[l.Resource] {
		if g.lock == l {
			return g
		}
	}
	return nil
}

func (m *Manager) remove(g *grant) {
	gs := m.grants[g.lock.Resource]
	for i, other := range gs {
		if other == g {
			gs = append(gs[:i], gs[i+1:]...)
			break
		}
	}
	if len(gs) == 0 {
		delete(m.grants, g.lock.Resource)
	} else {
		m.grants[g.lock.Resource] = gs
	}
}

func (m *Manager) notify() {
	close(m.released)
	m.released = make(chan struct{})
	m.metrics.SetHeld(m.size())
}

func (m *Manager) size() int {
	n := 0
	for _, gs := range m.grants {
		n += len(gs)
	}
	return n
}

func normalizeAll(locks []Lock) []Lock {
	out := make([]Lock, len(locks))
	for i, l := range locks {
		out[i] = l.normalize()
	}
	return out
}
