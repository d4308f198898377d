package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l(owner, resource string, typ Type) Lock {
	return Lock{Owner: owner, Resource: resource, Type: typ}
}

func TestTryLock_Compatibility(t *testing.T) {
	tests := []struct {
		name    string
		held    Lock
		request Lock
		granted bool
	}{
		{"shared/shared same path", l("a", "/x", Shared), l("b", "/x", Shared), true},
		{"shared/exclusive same path", l("a", "/x", Shared), l("b", "/x", Exclusive), false},
		{"exclusive/shared same path", l("a", "/x", Exclusive), l("b", "/x", Shared), false},
		{"exclusive/exclusive different paths", l("a", "/x", Exclusive), l("b", "/y", Exclusive), true},
		{"exclusive parent does not cover child", l("a", "/x", Exclusive), l("b", "/x/y", Exclusive), true},
		{"hier-exclusive parent covers child", l("a", "/x", HierarchicallyExclusive), l("b", "/x/y/z", Shared), false},
		{"hier-exclusive request over held child", l("a", "/x/y", Shared), l("b", "/x", HierarchicallyExclusive), false},
		{"hier-exclusive request over held sibling", l("a", "/xy", Shared), l("b", "/x", HierarchicallyExclusive), true},
		{"same owner never conflicts", l("a", "/x", HierarchicallyExclusive), l("a", "/x/y", Exclusive), true},
		{"root hier-exclusive covers everything", l("a", "/", HierarchicallyExclusive), l("b", "/any", Shared), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			require.True(t, m.TryLock(tt.held))
			assert.Equal(t, tt.granted, m.TryLock(tt.request))
		})
	}
}

func TestTryLock_AllOrNothing(t *testing.T) {
	m := NewManager(nil)
	require.True(t, m.TryLock(l("a", "/b", Exclusive)))

	assert.False(t, m.TryLock(l("t", "/a", Exclusive), l("t", "/b", Exclusive)))
	assert.Empty(t, m.Held("t"))

	// /a must still be free for someone else
	assert.True(t, m.TryLock(l("u", "/a", Exclusive)))
}

func TestTryLock_NormalizesResources(t *testing.T) {
	m := NewManager(nil)
	require.True(t, m.TryLock(l("a", "x//y/", Exclusive)))
	assert.False(t, m.TryLock(l("b", "/x/y", Shared)))
	assert.Equal(t, []Lock{l("a", "/x/y", Exclusive)}, m.Held("a"))
}

func TestUnlock(t *testing.T) {
	m := NewManager(nil)
	lk := l("a", "/x", Exclusive)

	require.True(t, m.TryLock(lk))
	require.True(t, m.TryLock(lk))

	require.NoError(t, m.Unlock(lk))
	assert.False(t, m.TryLock(l("b", "/x", Shared)), "still held once")

	require.NoError(t, m.Unlock(lk))
	assert.True(t, m.TryLock(l("b", "/x", Shared)))

	assert.ErrorIs(t, m.Unlock(lk), ErrNotLocked)
}

func TestUnlock_NotHeldReleasesNothing(t *testing.T) {
	m := NewManager(nil)
	held := l("a", "/x", Exclusive)
	require.True(t, m.TryLock(held))

	err := m.Unlock(held, l("a", "/never", Shared))
	assert.ErrorIs(t, err, ErrNotLocked)
	assert.Equal(t, []Lock{held}, m.Held("a"))
}

func TestUnlockAll(t *testing.T) {
	m := NewManager(nil)
	require.True(t, m.TryLock(l("a", "/x", Exclusive), l("a", "/y", Shared)))
	require.True(t, m.TryLock(l("b", "/y", Shared)))

	assert.Equal(t, 2, m.UnlockAll("a"))
	assert.Empty(t, m.Held("a"))
	assert.Len(t, m.Held("b"), 1)
	assert.Equal(t, 0, m.UnlockAll("a"))
}

func TestLock_BlocksUntilReleased(t *testing.T) {
	m := NewManager(nil)
	require.True(t, m.TryLock(l("a", "/ds", HierarchicallyExclusive)))

	acquired := make(chan error, 1)
	go func() {
		acquired <- m.Lock(context.Background(), l("b", "/ds/file", Exclusive))
	}()

	select {
	case <-acquired:
		t.Fatal("lock granted while conflicting lock is held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Unlock(l("a", "/ds", HierarchicallyExclusive)))

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lock not granted after release")
	}
	assert.Len(t, m.Held("b"), 1)
}

func TestLock_ContextCancelled(t *testing.T) {
	m := NewManager(nil)
	require.True(t, m.TryLock(l("a", "/x", Exclusive)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Lock(ctx, l("b", "/x", Exclusive))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, m.Held("b"))
}

func TestLock_RejectsReentrantRequests(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()
	require.NoError(t, m.Lock(ctx, l("a", "/x", Shared)))

	assert.ErrorIs(t, m.Lock(ctx, l("a", "/x", Shared)), ErrReentrantLock)
	assert.ErrorIs(t, m.Lock(ctx, l("a", "/x/y", Exclusive)), ErrReentrantLock)
	assert.ErrorIs(t, m.Lock(ctx, l("a", "/", HierarchicallyExclusive)), ErrReentrantLock)
	assert.NoError(t, m.Lock(ctx, l("a", "/z", Exclusive)))
}

func TestLock_ConcurrentExclusiveAccess(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := string(rune('a' + i))
			lk := l(owner, "/shared/resource", Exclusive)
			require.NoError(t, m.Lock(ctx, lk))

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, m.Unlock(lk))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
