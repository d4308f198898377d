package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/marmos91/afs/pkg/txn"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	storageRoot = "/data/storage"
	walRoot     = "/data/wal"
)

func newTestWorker(t *testing.T, mode Mode) (*Worker, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	txm, err := txn.NewManager(fs, lock.NewManager(nil), txn.Config{
		StorageRoot: storageRoot,
		WALRoot:     walRoot,
		Space:       storage.StaticProbe{Space: afs.FreeSpace{Total: 100, Free: 40}},
	})
	require.NoError(t, err)
	return New(mode, "token", txm, storage.FlatLayout{}), fs
}

func begin(t *testing.T, w *Worker) {
	t.Helper()
	require.NoError(t, w.Begin(context.Background(), uuid.New()))
}

func commit(t *testing.T, w *Worker) {
	t.Helper()
	require.NoError(t, w.Commit(context.Background()))
}

func TestWorker_WriteReadRoundTrip(t *testing.T) {
	w, fs := newTestWorker(t, OnePhase)
	ctx := context.Background()

	begin(t, w)
	require.NoError(t, w.Write(ctx, "E1", "/a.txt", 0, []byte("hello")))
	commit(t, w)

	data, err := afero.ReadFile(fs, filepath.Join(storageRoot, "E1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	begin(t, w)
	got, err := w.Read(ctx, "E1", "a.txt", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "ell", string(got))
	commit(t, w)
}

func TestWorker_WriteParentRules(t *testing.T) {
	w, _ := newTestWorker(t, OnePhase)
	ctx := context.Background()
	begin(t, w)

	err := w.Write(ctx, "E1", "/missing/a.txt", 0, []byte("x"))
	assert.True(t, afs.IsCode(err, afs.ErrNotFound), "got %v", err)

	require.NoError(t, w.Create(ctx, "E1", "/dir", true))
	require.NoError(t, w.Write(ctx, "E1", "/dir/a.txt", 0, []byte("x")))

	err = w.Write(ctx, "E1", "/", 0, []byte("x"))
	assert.True(t, afs.IsCode(err, afs.ErrInvalidPath), "got %v", err)
}

func TestWorker_RejectsEscapingPaths(t *testing.T) {
	w, fs := newTestWorker(t, NonTransactional)
	ctx := context.Background()
	require.NoError(t, fs.MkdirAll(filepath.Join(storageRoot, "E1"), 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(storageRoot, "E1", "a.txt"), []byte("hello"), 0644))
	before := storeTree(t, fs)

	locations := []struct {
		name  string
		owner string
		path  string
	}{
		{"dot_dot_path", "E1", "/../E2/a.txt"},
		{"nested_dot_dot", "E1", "/a/../../x"},
		{"dot_dot_only", "E1", "/.."},
		{"owner_with_slash", "E1/E2", "/a.txt"},
		{"owner_dot_dot", "..", "/a.txt"},
		{"empty_owner", "", "/a.txt"},
	}

	operations := []struct {
		name string
		run  func(owner, p string) error
	}{
		{"list", func(owner, p string) error { _, err := w.List(ctx, owner, p, true); return err }},
		{"read", func(owner, p string) error { _, err := w.Read(ctx, owner, p, 0, 1); return err }},
		{"write", func(owner, p string) error { return w.Write(ctx, owner, p, 0, []byte("x")) }},
		{"create_file", func(owner, p string) error { return w.Create(ctx, owner, p, false) }},
		{"create_directory", func(owner, p string) error { return w.Create(ctx, owner, p, true) }},
		{"copy_source", func(owner, p string) error { return w.Copy(ctx, owner, p, "E1", "/b.txt") }},
		{"copy_target", func(owner, p string) error { return w.Copy(ctx, "E1", "/a.txt", owner, p) }},
		{"move_source", func(owner, p string) error { return w.Move(ctx, owner, p, "E1", "/b.txt") }},
		{"move_target", func(owner, p string) error { return w.Move(ctx, "E1", "/a.txt", owner, p) }},
		{"delete", func(owner, p string) error { return w.Delete(ctx, owner, p) }},
		{"free", func(owner, p string) error { _, err := w.Free(ctx, owner, p); return err }},
	}

	begin(t, w)
	for _, op := range operations {
		for _, loc := range locations {
			t.Run(op.name+"/"+loc.name, func(t *testing.T) {
				err := op.run(loc.owner, loc.path)
				assert.True(t, afs.IsCode(err, afs.ErrInvalidPath), "got %v", err)
			})
		}
	}
	commit(t, w)

	assert.Equal(t, before, storeTree(t, fs), "rejected calls must not touch the store")
}

// storeTree lists every path below the storage root.
func storeTree(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	var paths []string
	err := afero.Walk(fs, storageRoot, func(p string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	})
	require.NoError(t, err)
	return paths
}

func TestWorker_ListIsOwnerRelative(t *testing.T) {
	w, _ := newTestWorker(t, OnePhase)
	ctx := context.Background()

	begin(t, w)
	require.NoError(t, w.Create(ctx, "E1", "/dir", true))
	require.NoError(t, w.Write(ctx, "E1", "/dir/a.txt", 0, []byte("abc")))
	require.NoError(t, w.Write(ctx, "E1", "/b.txt", 0, []byte("x")))
	commit(t, w)

	begin(t, w)
	defer w.Rollback(ctx)

	files, err := w.List(ctx, "E1", "/", true)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, "/b.txt", files[0].Path)
	assert.Equal(t, "/dir", files[1].Path)
	assert.True(t, files[1].Directory)
	assert.Nil(t, files[1].Size)
	assert.Equal(t, "/dir/a.txt", files[2].Path)
	assert.Equal(t, "a.txt", files[2].Name)
	assert.Equal(t, "E1", files[2].Owner)
	require.NotNil(t, files[2].Size)
	assert.Equal(t, int64(3), *files[2].Size)

	files, err = w.List(ctx, "E1", "/dir/a.txt", false)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/dir/a.txt", files[0].Path)
}

func TestWorker_CopyAndMoveAcrossOwners(t *testing.T) {
	w, fs := newTestWorker(t, OnePhase)
	ctx := context.Background()

	begin(t, w)
	require.NoError(t, w.Write(ctx, "E1", "/a.txt", 0, []byte("data")))
	commit(t, w)

	begin(t, w)
	require.NoError(t, w.Copy(ctx, "E1", "/a.txt", "E2", "/copy.txt"))
	require.NoError(t, w.Move(ctx, "E1", "/a.txt", "E3", "/moved.txt"))
	commit(t, w)

	for _, p := range []string{"E2/copy.txt", "E3/moved.txt"} {
		data, err := afero.ReadFile(fs, filepath.Join(storageRoot, p))
		require.NoError(t, err, p)
		assert.Equal(t, "data", string(data))
	}
	ok, err := afero.Exists(fs, filepath.Join(storageRoot, "E1", "a.txt"))
	require.NoError(t, err)
	assert.False(t, ok)

	begin(t, w)
	err = w.Copy(ctx, "E2", "/copy.txt", "E4", "/")
	assert.True(t, afs.IsCode(err, afs.ErrInvalidPath), "got %v", err)
}

func TestWorker_Placement(t *testing.T) {
	w, fs := newTestWorker(t, OnePhase)
	ctx := context.Background()
	w.layout = storage.ShardedLayout{ShareID: "1", StorageUUID: "uuid"}

	sharded := w.Placement("E1")
	assert.Equal(t, "1", sharded.ShareID)

	w.SetPlacement("E2", storage.Placement{ShareID: "7", Location: "legacy/E2"})
	assert.Equal(t, "/7/legacy/E2", w.Placement("E2").Path())

	begin(t, w)
	require.NoError(t, w.Write(ctx, "E2", "/a.txt", 0, []byte("x")))
	require.NoError(t, w.Write(ctx, "E1", "/b.txt", 0, []byte("y")))
	commit(t, w)

	ok, err := afero.Exists(fs, filepath.Join(storageRoot, "7", "legacy", "E2", "a.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = afero.Exists(fs, filepath.Join(storageRoot, filepath.FromSlash(sharded.Path()), "b.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := w.OwnerExists("E1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = w.OwnerExists("E9")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWorker_FailDoomsTransaction(t *testing.T) {
	w, fs := newTestWorker(t, TwoPhase)
	ctx := context.Background()

	begin(t, w)
	require.NoError(t, w.Write(ctx, "E1", "/a.txt", 0, []byte("x")))
	w.Fail(errors.New("registration failed"))

	err := w.Prepare(ctx)
	assert.True(t, afs.IsCode(err, afs.ErrInvalidState), "got %v", err)
	assert.Equal(t, txn.StateRolledBack, w.State())

	err = w.Commit(ctx)
	assert.True(t, afs.IsCode(err, afs.ErrInvalidState), "got %v", err)

	ok, err := afero.Exists(fs, filepath.Join(storageRoot, "E1", "a.txt"))
	require.NoError(t, err)
	assert.False(t, ok)

	// a new transaction starts clean
	begin(t, w)
	require.NoError(t, w.Write(ctx, "E1", "/a.txt", 0, []byte("x")))
	require.NoError(t, w.Prepare(ctx))
	commit(t, w)
}

func TestWorker_PendingOwners(t *testing.T) {
	w, _ := newTestWorker(t, OnePhase)
	ctx := context.Background()

	w.AddPending("E2")
	w.AddPending("E1")
	w.AddPending("E1")
	w.MarkRegistered("E3")
	w.AddPending("E3")
	assert.Equal(t, []string{"E1", "E2"}, w.TakePending())
	assert.Empty(t, w.TakePending())
	assert.True(t, w.IsRegistered("E3"))

	begin(t, w)
	w.AddPending("E4")
	require.NoError(t, w.Rollback(ctx))
	assert.Empty(t, w.TakePending())
}

func TestWorker_HasPendingOperations(t *testing.T) {
	w, _ := newTestWorker(t, OnePhase)
	ctx := context.Background()
	assert.False(t, w.HasPendingOperations())

	begin(t, w)
	assert.False(t, w.HasPendingOperations())
	require.NoError(t, w.Create(ctx, "E1", "/d", true))
	assert.True(t, w.HasPendingOperations())
	commit(t, w)
	assert.False(t, w.HasPendingOperations())
}

func TestWorker_RecoverListsPrepared(t *testing.T) {
	w, _ := newTestWorker(t, TwoPhase)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, w.Begin(ctx, id))
	require.NoError(t, w.Create(ctx, "E1", "/d", true))
	require.NoError(t, w.Prepare(ctx))

	ids, err := w.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
	assert.Equal(t, id, w.TransactionID())

	commit(t, w)
	ids, err = w.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWorker_Free(t *testing.T) {
	w, _ := newTestWorker(t, NonTransactional)
	ctx := context.Background()
	begin(t, w)
	defer w.Rollback(ctx)

	free, err := w.Free(ctx, "E1", "/not/yet/there")
	require.NoError(t, err)
	assert.Equal(t, afs.FreeSpace{Total: 100, Free: 40}, free)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "none", NonTransactional.String())
	assert.Equal(t, "one-phase", OnePhase.String())
	assert.Equal(t, "two-phase", TwoPhase.String())
}
