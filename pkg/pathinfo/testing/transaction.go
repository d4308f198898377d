package testing

import (
	"context"
	"testing"

	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *DAOTestSuite) RunTransactionTests(test *testing.T) {
	test.Run("Rollback_DiscardsWrites", suite.TestRollback_DiscardsWrites)
	test.Run("Uncommitted_Invisible", suite.TestUncommitted_Invisible)
	test.Run("Commit_Twice", suite.TestCommit_Twice)
	test.Run("Rollback_AfterCommit", suite.TestRollback_AfterCommit)
}

func (suite *DAOTestSuite) TestRollback_DiscardsWrites(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	id, err := tx.CreateDataSet(ctx, "DS1", "1/DS1")
	require.NoError(test, err)
	_, err = tx.CreateDataSetFile(ctx, pathinfo.DataSetFileRecord{DataSetID: id, FileName: "DS1", Directory: true})
	require.NoError(test, err)
	require.NoError(test, tx.Rollback())

	_, ok, err := dao.TryGetDataSetID(ctx, "DS1")
	require.NoError(test, err)
	assert.False(test, ok)

	rec, err := dao.TryGetRelativeDataSetFile(ctx, id, "")
	require.NoError(test, err)
	assert.Nil(test, rec)
}

func (suite *DAOTestSuite) TestUncommitted_Invisible(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	defer tx.Rollback()

	_, err = tx.CreateDataSet(ctx, "DS1", "1/DS1")
	require.NoError(test, err)

	_, ok, err := dao.TryGetDataSetID(ctx, "DS1")
	require.NoError(test, err)
	assert.False(test, ok)
}

func (suite *DAOTestSuite) TestCommit_Twice(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	require.NoError(test, tx.Commit())
	assert.ErrorIs(test, tx.Commit(), pathinfo.ErrTxDone)
}

func (suite *DAOTestSuite) TestRollback_AfterCommit(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	_, err = tx.CreateDataSet(ctx, "DS1", "1/DS1")
	require.NoError(test, err)
	require.NoError(test, tx.Commit())
	require.NoError(test, tx.Rollback())

	_, ok, err := dao.TryGetDataSetID(ctx, "DS1")
	require.NoError(test, err)
	assert.True(test, ok)
}
