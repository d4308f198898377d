package txn

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	storageRoot = "/data/storage"
	walRoot     = "/data/wal"
)

func newTestManager(t *testing.T, fs afero.Fs) *Manager {
	t.Helper()
	m, err := NewManager(fs, lock.NewManager(nil), Config{
		StorageRoot: storageRoot,
		WALRoot:     walRoot,
		Space:       storage.StaticProbe{Space: afs.FreeSpace{Total: 100, Free: 40}},
	})
	require.NoError(t, err)
	return m
}

func begin(t *testing.T, m *Manager) *Connection {
	t.Helper()
	c := m.NewConnection()
	require.NoError(t, c.Begin(context.Background(), uuid.New()))
	return c
}

func writeFile(t *testing.T, fs afero.Fs, p, content string) {
	t.Helper()
	full := filepath.Join(storageRoot, p)
	require.NoError(t, fs.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, afero.WriteFile(fs, full, []byte(content), 0644))
}

func readFile(t *testing.T, fs afero.Fs, p string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, filepath.Join(storageRoot, p))
	require.NoError(t, err)
	return string(data)
}

func exists(t *testing.T, fs afero.Fs, p string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, p)
	require.NoError(t, err)
	return ok
}

func TestCommit_AppliesOperationsInOrder(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/owner/old.txt", "old")
	writeFile(t, fs, "/owner/gone.txt", "bye")

	c := begin(t, m)
	require.NoError(t, c.Write(ctx, "/owner/dir/new.txt", 0, []byte("hello")))
	require.NoError(t, c.Create(ctx, "/owner/empty", true))
	require.NoError(t, c.Copy(ctx, "/owner/old.txt", "/owner/copy.txt"))
	require.NoError(t, c.Move(ctx, "/owner/old.txt", "/owner/moved/old.txt"))
	require.NoError(t, c.Delete(ctx, "/owner/gone.txt"))

	// nothing visible before commit
	assert.False(t, exists(t, fs, filepath.Join(storageRoot, "/owner/dir/new.txt")))

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, StateCommitted, c.State())

	assert.Equal(t, "hello", readFile(t, fs, "/owner/dir/new.txt"))
	assert.Equal(t, "old", readFile(t, fs, "/owner/copy.txt"))
	assert.Equal(t, "old", readFile(t, fs, "/owner/moved/old.txt"))
	assert.True(t, exists(t, fs, filepath.Join(storageRoot, "/owner/empty")))
	assert.False(t, exists(t, fs, filepath.Join(storageRoot, "/owner/old.txt")))
	assert.False(t, exists(t, fs, filepath.Join(storageRoot, "/owner/gone.txt")))

	assert.False(t, exists(t, fs, filepath.Join(walRoot, c.ID().String())), "log directory removed")
	assert.Empty(t, m.Locks().Held(c.ID().String()))
}

func TestWrite_AtOffset(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/o/f", "abcdef")

	c := begin(t, m)
	require.NoError(t, c.Write(ctx, "/o/f", 2, []byte("XY")))
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, "abXYef", readFile(t, fs, "/o/f"))
}

func TestWrite_DataNotStoredInLog(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)

	c := begin(t, m)
	require.NoError(t, c.Write(ctx, "/o/f", 0, []byte("secret-payload")))
	require.NoError(t, c.Prepare(ctx))

	raw, err := afero.ReadFile(fs, filepath.Join(walRoot, c.ID().String(), preparedLogName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-payload")
	assert.Contains(t, string(raw), `"type":"write"`)
}

func TestRollback_DiscardsEverything(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)

	c := begin(t, m)
	require.NoError(t, c.Write(ctx, "/o/f", 0, []byte("x")))
	require.NoError(t, c.Rollback(ctx))

	assert.Equal(t, StateRolledBack, c.State())
	assert.False(t, exists(t, fs, filepath.Join(storageRoot, "/o/f")))
	assert.False(t, exists(t, fs, filepath.Join(walRoot, c.ID().String())))
	assert.Empty(t, m.Locks().Held(c.ID().String()))

	// rollback outside a transaction is a no-op
	require.NoError(t, c.Rollback(ctx))
}

func TestConnection_Reusable(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)

	c := begin(t, m)
	require.NoError(t, c.Write(ctx, "/o/a", 0, []byte("1")))
	require.NoError(t, c.Commit(ctx))

	require.NoError(t, c.Begin(ctx, uuid.New()))
	assert.Empty(t, c.Operations())
	require.NoError(t, c.Write(ctx, "/o/b", 0, []byte("2")))
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, "2", readFile(t, fs, "/o/b"))
}

func TestStateErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, afero.NewMemMapFs())

	c := m.NewConnection()
	assert.True(t, afs.IsCode(c.Prepare(ctx), afs.ErrInvalidState))
	assert.True(t, afs.IsCode(c.Commit(ctx), afs.ErrInvalidState))
	assert.True(t, afs.IsCode(c.Write(ctx, "/a", 0, nil), afs.ErrInvalidState))

	require.NoError(t, c.Begin(ctx, uuid.New()))
	assert.True(t, afs.IsCode(c.Begin(ctx, uuid.New()), afs.ErrInvalidState))

	require.NoError(t, c.Commit(ctx))
	assert.True(t, afs.IsCode(c.Commit(ctx), afs.ErrInvalidState))
}

func TestBegin_DuplicateID(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, afero.NewMemMapFs())
	id := uuid.New()

	require.NoError(t, m.NewConnection().Begin(ctx, id))
	err := m.NewConnection().Begin(ctx, id)
	assert.True(t, afs.IsCode(err, afs.ErrAlreadyExists))
}

func TestOrderingConflicts(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(c *Connection) error
		op    func(c *Connection) error
	}{
		{
			name:  "read after write",
			setup: func(c *Connection) error { return c.Write(ctx, "/o/f", 0, []byte("x")) },
			op:    func(c *Connection) error { _, err := c.Read(ctx, "/o/f", 0, 1); return err },
		},
		{
			name:  "list below written directory",
			setup: func(c *Connection) error { return c.Create(ctx, "/o/newdir", true) },
			op:    func(c *Connection) error { _, err := c.List(ctx, "/o/newdir/x", false); return err },
		},
		{
			name:  "write after delete",
			setup: func(c *Connection) error { return c.Delete(ctx, "/o/existing") },
			op:    func(c *Connection) error { return c.Write(ctx, "/o/existing", 0, []byte("x")) },
		},
		{
			name:  "write inside deleted directory",
			setup: func(c *Connection) error { return c.Delete(ctx, "/o") },
			op:    func(c *Connection) error { return c.Write(ctx, "/o/other", 0, []byte("x")) },
		},
		{
			name:  "operate on moved source",
			setup: func(c *Connection) error { return c.Move(ctx, "/o/existing", "/o/renamed") },
			op:    func(c *Connection) error { return c.Delete(ctx, "/o/existing") },
		},
		{
			name:  "operate on moved target",
			setup: func(c *Connection) error { return c.Move(ctx, "/o/existing", "/o/renamed") },
			op:    func(c *Connection) error { return c.Write(ctx, "/o/renamed", 0, []byte("x")) },
		},
		{
			name:  "operate on copied target",
			setup: func(c *Connection) error { return c.Copy(ctx, "/o/existing", "/o/copy") },
			op:    func(c *Connection) error { return c.Delete(ctx, "/o/copy") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			m := newTestManager(t, fs)
			writeFile(t, fs, "/o/existing", "content")

			c := begin(t, m)
			require.NoError(t, tt.setup(c))
			err := tt.op(c)
			assert.True(t, afs.IsCode(err, afs.ErrTransactionConflict), "got %v", err)
		})
	}
}

func TestValidationErrors(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/o/f", "x")

	c := begin(t, m)
	assert.True(t, afs.IsCode(c.Create(ctx, "/o/f", false), afs.ErrAlreadyExists))
	assert.True(t, afs.IsCode(c.Delete(ctx, "/o/missing"), afs.ErrNotFound))
	assert.True(t, afs.IsCode(c.Move(ctx, "/o/missing", "/o/t"), afs.ErrNotFound))
	assert.True(t, afs.IsCode(c.Copy(ctx, "/o/f", "/o/f"), afs.ErrInvalidPath))
	assert.True(t, afs.IsCode(c.Copy(ctx, "/o", "/o/sub"), afs.ErrInvalidPath))
	assert.True(t, afs.IsCode(c.Write(ctx, "/o/../etc", 0, nil), afs.ErrInvalidPath))
	assert.True(t, afs.IsCode(c.Write(ctx, "/o", 0, nil), afs.ErrInvalidPath))
	assert.True(t, afs.IsCode(c.Delete(ctx, "/"), afs.ErrInvalidPath))

	_, err := c.Read(ctx, "/o/missing", 0, 10)
	assert.True(t, afs.IsCode(err, afs.ErrNotFound))
	_, err = c.Read(ctx, "/o", 0, 10)
	assert.True(t, afs.IsCode(err, afs.ErrInvalidPath))
	_, err = c.List(ctx, "/nope", false)
	assert.True(t, afs.IsCode(err, afs.ErrNotFound))

	assert.Empty(t, c.Operations(), "failed operations are not recorded")
}

func TestCreatedPathsVisibleInsideTransaction(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)

	c := begin(t, m)
	require.NoError(t, c.Create(ctx, "/o/a/b", true))

	isDir, err := c.IsDirectory("/o/a")
	require.NoError(t, err)
	assert.True(t, isDir, "parents are created implicitly")

	require.NoError(t, c.Write(ctx, "/o/a/b/f", 0, []byte("x")))
	require.NoError(t, c.Move(ctx, "/o/a/b/f", "/o/g"))
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, "x", readFile(t, fs, "/o/g"))
}

func TestLockConflictsBetweenTransactions(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/o/f", "x")
	writeFile(t, fs, "/d/inner", "y")

	a := begin(t, m)
	b := begin(t, m)

	require.NoError(t, a.Write(ctx, "/o/f", 0, []byte("1")))
	assert.True(t, afs.IsCode(b.Write(ctx, "/o/f", 0, []byte("2")), afs.ErrTransactionConflict))
	_, err := b.Read(ctx, "/o/f", 0, 1)
	assert.True(t, afs.IsCode(err, afs.ErrTransactionConflict))

	require.NoError(t, a.Delete(ctx, "/d"))
	assert.True(t, afs.IsCode(b.Write(ctx, "/d/inner", 0, []byte("2")), afs.ErrTransactionConflict))

	require.NoError(t, a.Commit(ctx))
	require.NoError(t, b.Write(ctx, "/o/f", 0, []byte("2")))
	require.NoError(t, b.Commit(ctx))
	assert.Equal(t, "2", readFile(t, fs, "/o/f"))
}

func TestReadLocksAreReleased(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/o/f", "content")

	a := begin(t, m)
	data, err := a.Read(ctx, "/o/f", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "nte", string(data))

	data, err = a.Read(ctx, "/o/f", 100, 3)
	require.NoError(t, err)
	assert.Empty(t, data)

	b := begin(t, m)
	require.NoError(t, b.Write(ctx, "/o/f", 0, []byte("X")), "read lock must not outlive the read")
}

func TestList(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/o/a.txt", "1")
	writeFile(t, fs, "/o/sub/b.txt", "22")

	c := begin(t, m)

	entries, err := c.List(ctx, "/o", false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/o/a.txt", entries[0].Path)
	assert.Equal(t, "/o/sub", entries[1].Path)
	assert.True(t, entries[1].Directory)

	entries, err = c.List(ctx, "/o", true)
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/o/a.txt", "/o/sub", "/o/sub/b.txt"}, paths)

	entries, err = c.List(ctx, "/o/sub/b.txt", false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Size)
}

func TestRead_LimitBeyondFileSize(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/o/a.txt", "hello")

	c := begin(t, m)

	tests := []struct {
		name   string
		offset int64
		limit  int
		want   string
	}{
		{"huge limit", 0, math.MaxInt, "hello"},
		{"huge limit at offset", 3, math.MaxInt, "lo"},
		{"offset at end", 5, math.MaxInt, ""},
		{"offset past end", 9, 10, ""},
		{"zero limit", 0, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				data []byte
				err  error
			)
			require.NotPanics(t, func() {
				data, err = c.Read(ctx, "/o/a.txt", tt.offset, tt.limit)
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestFree(t *testing.T) {
	m := newTestManager(t, afero.NewMemMapFs())
	c := begin(t, m)
	space, err := c.Free(context.Background(), "/anything")
	require.NoError(t, err)
	assert.Equal(t, afs.FreeSpace{Total: 100, Free: 40}, space)
}

func TestCommit_FailurePartWay(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	m := newTestManager(t, fs)
	writeFile(t, fs, "/o/src/f", "data")

	c := begin(t, m)
	require.NoError(t, c.Write(ctx, "/o/first", 0, []byte("applied")))
	require.NoError(t, c.Copy(ctx, "/o/src", "/o/dst"))

	// source disappears behind the transaction's back
	require.NoError(t, fs.RemoveAll(filepath.Join(storageRoot, "/o/src")))

	err := c.Commit(ctx)
	assert.True(t, afs.IsCode(err, afs.ErrStorageFailure))
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, "applied", readFile(t, fs, "/o/first"))
	assert.Empty(t, m.Locks().Held(c.ID().String()))
}

type differentVolumes struct{}

func (differentVolumes) SameVolume(a, b string) (bool, error) { return false, nil }

func TestNewManager_RequiresSameVolume(t *testing.T) {
	_, err := NewManager(afero.NewMemMapFs(), lock.NewManager(nil), Config{
		StorageRoot: storageRoot,
		WALRoot:     walRoot,
		Volumes:     differentVolumes{},
	})
	assert.Error(t, err)

	_, err = NewManager(afero.NewMemMapFs(), lock.NewManager(nil), Config{StorageRoot: storageRoot})
	assert.Error(t, err)
}
