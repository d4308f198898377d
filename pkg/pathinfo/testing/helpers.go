package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/stretchr/testify/require"
)

var modTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func crc(v uint32) *uint32 {
	return &v
}

// seed commits a data set with the tree:
//
//	""           dir  (30)
//	a            dir  (20)
//	a/b.txt      file (20)
//	c.txt        file (10)
func seed(test *testing.T, dao pathinfo.DAO, code string) (dataSetID, rootID, dirID int64) {
	ctx := context.Background()
	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	defer tx.Rollback()

	dataSetID, err = tx.CreateDataSet(ctx, code, "1/"+code)
	require.NoError(test, err)

	rootID, err = tx.CreateDataSetFile(ctx, pathinfo.DataSetFileRecord{
		DataSetID: dataSetID, FileName: code, Directory: true, SizeInBytes: 30, LastModified: modTime,
	})
	require.NoError(test, err)

	dirID, err = tx.CreateDataSetFile(ctx, pathinfo.DataSetFileRecord{
		DataSetID: dataSetID, ParentID: &rootID, RelativePath: "a", FileName: "a",
		Directory: true, SizeInBytes: 20, LastModified: modTime,
	})
	require.NoError(test, err)

	require.NoError(test, tx.CreateDataSetFiles(ctx, []pathinfo.DataSetFileRecord{
		{DataSetID: dataSetID, ParentID: &rootID, RelativePath: "c.txt", FileName: "c.txt",
			SizeInBytes: 10, LastModified: modTime, ChecksumCRC32: crc(7)},
	}))
	require.NoError(test, tx.CreateDataSetFiles(ctx, []pathinfo.DataSetFileRecord{
		{DataSetID: dataSetID, ParentID: &dirID, RelativePath: "a/b.txt", FileName: "b.txt",
			SizeInBytes: 20, LastModified: modTime, ChecksumCRC32: crc(0xFFFFFFFF), Checksum: "MD5:00"},
	}))

	require.NoError(test, tx.Commit())
	return dataSetID, rootID, dirID
}

func paths(files []pathinfo.DataSetFileRecord) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelativePath
	}
	return out
}
