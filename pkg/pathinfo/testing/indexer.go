package testing

import (
	"context"
	"hash/crc32"
	"testing"
	"time"

	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *DAOTestSuite) RunIndexerTests(test *testing.T) {
	test.Run("AddPaths_Tree", suite.TestAddPaths_Tree)
	test.Run("AddPaths_Checksum", suite.TestAddPaths_Checksum)
	test.Run("AddPaths_MissingRoot", suite.TestAddPaths_MissingRoot)
}

func dataSetFolder(test *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	require.NoError(test, fs.MkdirAll("/store/1/DS1/original/sub", 0755))
	require.NoError(test, fs.MkdirAll("/store/1/DS1/empty", 0755))
	require.NoError(test, afero.WriteFile(fs, "/store/1/DS1/original/data.txt", []byte("hello"), 0644))
	require.NoError(test, afero.WriteFile(fs, "/store/1/DS1/original/sub/more.bin", []byte("0123456789"), 0644))
	require.NoError(test, afero.WriteFile(fs, "/store/1/DS1/readme", []byte("abc"), 0644))
	for _, p := range []string{"/store/1/DS1/original/data.txt", "/store/1/DS1/original/sub/more.bin", "/store/1/DS1/readme"} {
		require.NoError(test, fs.Chtimes(p, modTime, modTime))
	}
	return fs
}

func index(test *testing.T, dao pathinfo.DAO, ix *pathinfo.Indexer) *pathinfo.IndexResult {
	ctx := context.Background()
	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	defer tx.Rollback()

	res, err := ix.AddPaths(ctx, tx, "DS1", "1/DS1", "/store/1/DS1")
	require.NoError(test, err)
	require.NoError(test, tx.Commit())
	return res
}

func (suite *DAOTestSuite) TestAddPaths_Tree(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	ix, err := pathinfo.NewIndexer(dataSetFolder(test), pathinfo.IndexerOptions{})
	require.NoError(test, err)
	res := index(test, dao, ix)

	assert.Equal(test, int64(18), res.Size)
	assert.Equal(test, 7, res.Files)

	files, err := dao.ListDataSetFiles(ctx, res.DataSetID)
	require.NoError(test, err)
	assert.Equal(test, []string{"", "empty", "original", "original/data.txt", "original/sub", "original/sub/more.bin", "readme"}, paths(files))

	byPath := make(map[string]pathinfo.DataSetFileRecord)
	for _, f := range files {
		byPath[f.RelativePath] = f
	}

	root := byPath[""]
	assert.Nil(test, root.ParentID)
	assert.Equal(test, "DS1", root.FileName)
	assert.Nil(test, root.ChecksumCRC32)

	original := byPath["original"]
	assert.Equal(test, int64(15), original.SizeInBytes)
	require.NotNil(test, original.ParentID)
	assert.Equal(test, root.ID, *original.ParentID)

	data := byPath["original/data.txt"]
	assert.Equal(test, original.ID, *data.ParentID)
	assert.Equal(test, int64(5), data.SizeInBytes)
	require.NotNil(test, data.ChecksumCRC32)
	assert.Equal(test, crc32.ChecksumIEEE([]byte("hello")), *data.ChecksumCRC32)
	assert.Empty(test, data.Checksum)
	assert.True(test, modTime.Equal(data.LastModified.In(time.UTC)))

	assert.Equal(test, int64(0), byPath["empty"].SizeInBytes)
	assert.True(test, byPath["empty"].Directory)
}

func (suite *DAOTestSuite) TestAddPaths_Checksum(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	ix, err := pathinfo.NewIndexer(dataSetFolder(test), pathinfo.IndexerOptions{ComputeChecksum: true, ChecksumType: "sha256"})
	require.NoError(test, err)
	res := index(test, dao, ix)

	rec, err := dao.TryGetRelativeDataSetFile(ctx, res.DataSetID, "original/data.txt")
	require.NoError(test, err)
	require.NotNil(test, rec)
	assert.Equal(test, "SHA-256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", rec.Checksum)
}

func (suite *DAOTestSuite) TestAddPaths_MissingRoot(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	ix, err := pathinfo.NewIndexer(afero.NewMemMapFs(), pathinfo.IndexerOptions{})
	require.NoError(test, err)

	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	defer tx.Rollback()

	_, err = ix.AddPaths(ctx, tx, "DS1", "1/DS1", "/store/1/DS1")
	assert.Error(test, err)
}
