package badger

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/afs/pkg/pathinfo"
	pathinfotesting "github.com/marmos91/afs/pkg/pathinfo/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	suite := &pathinfotesting.DAOTestSuite{
		NewDAO: func(t *testing.T) pathinfo.DAO {
			store, err := Open(context.Background(), Config{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
	suite.Run(t)
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	store, err := Open(ctx, Config{Path: dir})
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.CreateDataSet(ctx, "DS1", "1/DS1")
	require.NoError(t, err)
	_, err = tx.CreateDataSetFile(ctx, pathinfo.DataSetFileRecord{DataSetID: id, FileName: "DS1", Directory: true})
	require.NoError(t, err)
	require.NoError(t, tx.CreateLastSeenTimestamp(ctx, ts, "AFS"))
	require.NoError(t, tx.Commit())
	require.NoError(t, store.Close())

	store, err = Open(ctx, Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	got, ok, err := store.TryGetDataSetID(ctx, "DS1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	lastSeen, err := store.GetLastSeenTimestamp(ctx, "AFS")
	require.NoError(t, err)
	require.NotNil(t, lastSeen)
	assert.True(t, ts.Equal(*lastSeen))

	// ids keep growing across restarts
	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	next, err := tx.CreateDataSet(ctx, "DS2", "1/DS2")
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "f:000000000000002a:", string(keyFilesOf(42)))
	assert.Equal(t, "f:000000000000002a:a/b", string(keyFile(42, "a/b")))
	assert.Equal(t, "c:0000000000000001:0000000000000002:x", string(keyChild(1, 2, "x")))
	assert.Equal(t, "ds:DS1", string(keyDataSet("DS1")))
	assert.Equal(t, "lfe:AFS", string(keyLastSeen("AFS")))
}
