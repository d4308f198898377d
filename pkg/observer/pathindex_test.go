package observer

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/pathinfo"
	pimemory "github.com/marmos91/afs/pkg/pathinfo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var indexed = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// newIndex indexes E1 with the tree d/, d/x.txt, y.txt.
func newIndex(t *testing.T) *pimemory.Store {
	t.Helper()
	ctx := context.Background()
	store := pimemory.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	id, err := tx.CreateDataSet(ctx, "E1", "E1")
	require.NoError(t, err)
	root, err := tx.CreateDataSetFile(ctx, pathinfo.DataSetFileRecord{
		DataSetID: id, FileName: "E1", Directory: true, SizeInBytes: 7, LastModified: indexed,
	})
	require.NoError(t, err)
	dir, err := tx.CreateDataSetFile(ctx, pathinfo.DataSetFileRecord{
		DataSetID: id, ParentID: &root, RelativePath: "d", FileName: "d", Directory: true, SizeInBytes: 3, LastModified: indexed,
	})
	require.NoError(t, err)
	require.NoError(t, tx.CreateDataSetFiles(ctx, []pathinfo.DataSetFileRecord{
		{DataSetID: id, ParentID: &root, RelativePath: "y.txt", FileName: "y.txt", SizeInBytes: 4, LastModified: indexed},
	}))
	require.NoError(t, tx.CreateDataSetFiles(ctx, []pathinfo.DataSetFileRecord{
		{DataSetID: id, ParentID: &dir, RelativePath: "d/x.txt", FileName: "x.txt", SizeInBytes: 3, LastModified: indexed},
	}))
	require.NoError(t, tx.Commit())
	return store
}

func filePaths(t *testing.T, result any) []string {
	t.Helper()
	files, ok := result.([]afs.File)
	require.True(t, ok, "unexpected result %T", result)
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestPathIndexLister(t *testing.T) {
	f := newFixture(t, nil)
	f.serve(t, NewPathIndexLister(newIndex(t)))

	// Only disk.txt exists on disk; everything else comes from the index.
	f.must(t, nonTx(api.MethodWrite, write("E1", "/disk.txt")))

	tests := []struct {
		name      string
		params    api.Params
		want      []string
		wantError afs.ErrorCode
	}{
		{name: "root", params: api.Params{Owner: "E1", Source: "/"}, want: []string{"/d", "/y.txt"}},
		{name: "empty source", params: api.Params{SourceOwner: "E1"}, want: []string{"/d", "/y.txt"}},
		{name: "recursive", params: api.Params{Owner: "E1", Recursively: true}, want: []string{"/d", "/d/x.txt", "/y.txt"}},
		{name: "directory with trailing slash", params: api.Params{Owner: "E1", Source: "d/"}, want: []string{"/d/x.txt"}},
		{name: "file", params: api.Params{Owner: "E1", Source: "/d/x.txt"}, want: []string{"/d/x.txt"}},
		{name: "not indexed path falls back", params: api.Params{Owner: "E1", Source: "/disk.txt"}, want: []string{"/disk.txt"}},
		{name: "missing path", params: api.Params{Owner: "E1", Source: "/nope"}, wantError: afs.ErrNotFound},
		{name: "not indexed owner", params: api.Params{Owner: "E2"}, wantError: afs.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.do(nonTx(api.MethodList, tt.params))
			if tt.want == nil {
				assert.True(t, afs.IsCode(err, tt.wantError), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, filePaths(t, result))
		})
	}
}

func TestPathIndexLister_SkipsPendingTransactions(t *testing.T) {
	f := newFixture(t, nil)
	f.serve(t, NewPathIndexLister(newIndex(t)))
	f.must(t, nonTx(api.MethodWrite, write("E1", "/disk.txt")))

	f.must(t, onePhase(api.MethodBegin, api.Params{}))
	assert.Equal(t, []string{"/d", "/y.txt"}, filePaths(t, f.must(t, onePhase(api.MethodList, api.Params{Owner: "E1"}))))

	f.must(t, onePhase(api.MethodWrite, write("E1", "/new.txt")))
	assert.Equal(t, []string{"/disk.txt"}, filePaths(t, f.must(t, onePhase(api.MethodList, api.Params{Owner: "E1"}))))
	f.must(t, onePhase(api.MethodRollback, api.Params{}))
}

func TestFilesFromRecords(t *testing.T) {
	files := FilesFromRecords("E1", []pathinfo.DataSetFileRecord{
		{RelativePath: "b.txt", FileName: "b.txt", SizeInBytes: 5, LastModified: indexed},
		{RelativePath: "a", FileName: "a", Directory: true, SizeInBytes: 9, LastModified: indexed},
	})
	require.Len(t, files, 2)

	assert.Equal(t, afs.File{Owner: "E1", Path: "/a", Name: "a", Directory: true, LastModifiedTime: indexed}, files[0])
	require.NotNil(t, files[1].Size)
	assert.Equal(t, int64(5), *files[1].Size)
	assert.Equal(t, "/b.txt", files[1].Path)
}
