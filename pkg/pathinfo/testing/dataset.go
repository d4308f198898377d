package testing

import (
	"context"
	"testing"

	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *DAOTestSuite) RunDataSetTests(test *testing.T) {
	test.Run("TryGetDataSetID_Missing", suite.TestTryGetDataSetID_Missing)
	test.Run("CreateDataSet_Success", suite.TestCreateDataSet_Success)
	test.Run("CreateDataSet_Duplicate", suite.TestCreateDataSet_Duplicate)
	test.Run("ListDataSetsSize", suite.TestListDataSetsSize)
}

func (suite *DAOTestSuite) TestTryGetDataSetID_Missing(test *testing.T) {
	dao := suite.NewDAO(test)

	_, ok, err := dao.TryGetDataSetID(context.Background(), "NOPE")
	require.NoError(test, err)
	assert.False(test, ok)
}

func (suite *DAOTestSuite) TestCreateDataSet_Success(test *testing.T) {
	dao := suite.NewDAO(test)
	id, _, _ := seed(test, dao, "DS1")

	got, ok, err := dao.TryGetDataSetID(context.Background(), "DS1")
	require.NoError(test, err)
	assert.True(test, ok)
	assert.Equal(test, id, got)
}

func (suite *DAOTestSuite) TestCreateDataSet_Duplicate(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()
	seed(test, dao, "DS1")

	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	defer tx.Rollback()

	_, err = tx.CreateDataSet(ctx, "DS1", "elsewhere")
	if err == nil {
		err = tx.Commit()
	}
	assert.ErrorIs(test, err, pathinfo.ErrAlreadyExists)
}

func (suite *DAOTestSuite) TestListDataSetsSize(test *testing.T) {
	dao := suite.NewDAO(test)
	seed(test, dao, "DS1")
	seed(test, dao, "DS2")

	sizes, err := dao.ListDataSetsSize(context.Background(), []string{"DS1", "DS2", "MISSING"})
	require.NoError(test, err)
	assert.Equal(test, map[string]int64{"DS1": 30, "DS2": 30}, sizes)
}
