package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *DAOTestSuite) RunLastSeenTests(test *testing.T) {
	test.Run("Missing", suite.TestLastSeen_Missing)
	test.Run("Replace", suite.TestLastSeen_Replace)
	test.Run("PerKind", suite.TestLastSeen_PerKind)
}

func (suite *DAOTestSuite) TestLastSeen_Missing(test *testing.T) {
	dao := suite.NewDAO(test)

	ts, err := dao.GetLastSeenTimestamp(context.Background(), "AFS")
	require.NoError(test, err)
	assert.Nil(test, ts)
}

func (suite *DAOTestSuite) TestLastSeen_Replace(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	for _, ts := range []time.Time{modTime, modTime.Add(time.Hour)} {
		tx, err := dao.Begin(ctx)
		require.NoError(test, err)
		require.NoError(test, tx.DeleteLastSeenTimestamp(ctx, "AFS"))
		require.NoError(test, tx.CreateLastSeenTimestamp(ctx, ts, "AFS"))
		require.NoError(test, tx.Commit())
	}

	got, err := dao.GetLastSeenTimestamp(ctx, "AFS")
	require.NoError(test, err)
	require.NotNil(test, got)
	assert.True(test, modTime.Add(time.Hour).Equal(*got))
}

func (suite *DAOTestSuite) TestLastSeen_PerKind(test *testing.T) {
	dao := suite.NewDAO(test)
	ctx := context.Background()

	tx, err := dao.Begin(ctx)
	require.NoError(test, err)
	require.NoError(test, tx.CreateLastSeenTimestamp(ctx, modTime, "AFS"))
	require.NoError(test, tx.Commit())

	other, err := dao.GetLastSeenTimestamp(ctx, "OTHER")
	require.NoError(test, err)
	assert.Nil(test, other)
}
