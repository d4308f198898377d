package testing

import (
	"context"
	"testing"

	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *DAOTestSuite) RunFileTests(test *testing.T) {
	test.Run("GetDataSetRootFile", suite.TestGetDataSetRootFile)
	test.Run("GetDataSetRootFile_NotFound", suite.TestGetDataSetRootFile_NotFound)
	test.Run("TryGetRelativeDataSetFile", suite.TestTryGetRelativeDataSetFile)
	test.Run("ListChildren", suite.TestListChildren)
	test.Run("ListDataSetFiles", suite.TestListDataSetFiles)
	test.Run("ListFiles", suite.TestListFiles)
	test.Run("DataSetsAreIsolated", suite.TestDataSetsAreIsolated)
}

func (suite *DAOTestSuite) TestGetDataSetRootFile(test *testing.T) {
	dao := suite.NewDAO(test)
	id, rootID, _ := seed(test, dao, "DS1")

	root, err := dao.GetDataSetRootFile(context.Background(), id)
	require.NoError(test, err)
	assert.Equal(test, rootID, root.ID)
	assert.Nil(test, root.ParentID)
	assert.Equal(test, "", root.RelativePath)
	assert.Equal(test, "DS1", root.FileName)
	assert.True(test, root.Directory)
	assert.Equal(test, int64(30), root.SizeInBytes)
}

func (suite *DAOTestSuite) TestGetDataSetRootFile_NotFound(test *testing.T) {
	dao := suite.NewDAO(test)

	_, err := dao.GetDataSetRootFile(context.Background(), 4242)
	assert.ErrorIs(test, err, pathinfo.ErrNotFound)
}

func (suite *DAOTestSuite) TestTryGetRelativeDataSetFile(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()
	id, _, dirID := seed(test, dao, "DS1")

	rec, err := dao.TryGetRelativeDataSetFile(ctx, id, "a/b.txt")
	require.NoError(test, err)
	require.NotNil(test, rec)
	assert.Equal(test, "b.txt", rec.FileName)
	require.NotNil(test, rec.ParentID)
	assert.Equal(test, dirID, *rec.ParentID)
	require.NotNil(test, rec.ChecksumCRC32)
	assert.Equal(test, uint32(0xFFFFFFFF), *rec.ChecksumCRC32)
	assert.Equal(test, "MD5:00", rec.Checksum)
	assert.True(test, modTime.Equal(rec.LastModified))

	rec, err = dao.TryGetRelativeDataSetFile(ctx, id, "a/missing")
	require.NoError(test, err)
	assert.Nil(test, rec)
}

func (suite *DAOTestSuite) TestListChildren(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()
	id, rootID, dirID := seed(test, dao, "DS1")

	children, err := dao.ListChildren(ctx, id, rootID)
	require.NoError(test, err)
	assert.Equal(test, []string{"a", "c.txt"}, paths(children))

	children, err = dao.ListChildren(ctx, id, dirID)
	require.NoError(test, err)
	assert.Equal(test, []string{"a/b.txt"}, paths(children))
}

func (suite *DAOTestSuite) TestListDataSetFiles(test *testing.T) {
	dao := suite.NewDAO(test)
	id, _, _ := seed(test, dao, "DS1")

	files, err := dao.ListDataSetFiles(context.Background(), id)
	require.NoError(test, err)
	assert.Equal(test, []string{"", "a", "a/b.txt", "c.txt"}, paths(files))
}

func (suite *DAOTestSuite) TestListFiles(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()
	id, _, _ := seed(test, dao, "DS1")

	tests := []struct {
		name      string
		path      string
		recursive bool
		found     bool
		want      []string
	}{
		{"root_children", "", false, true, []string{"a", "c.txt"}},
		{"root_recursive", "", true, true, []string{"a", "c.txt", "a/b.txt"}},
		{"directory", "a", false, true, []string{"a/b.txt"}},
		{"file", "c.txt", false, true, []string{"c.txt"}},
		{"missing", "zzz", true, false, nil},
	}

	for _, tt := range tests {
		test.Run(tt.name, func(t *testing.T) {
			files, found, err := pathinfo.ListFiles(ctx, dao, id, tt.path, tt.recursive)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			if tt.want == nil {
				assert.Empty(t, files)
				return
			}
			assert.Equal(t, tt.want, paths(files))
		})
	}
}

func (suite *DAOTestSuite) TestDataSetsAreIsolated(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()
	id1, _, _ := seed(test, dao, "DS1")
	id2, _, _ := seed(test, dao, "DS2")
	require.NotEqual(test, id1, id2)

	files, err := dao.ListDataSetFiles(ctx, id2)
	require.NoError(test, err)
	require.Len(test, files, 4)
	for _, f := range files {
		assert.Equal(test, id2, f.DataSetID)
	}
}
