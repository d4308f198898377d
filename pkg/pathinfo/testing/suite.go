package testing

import (
	"testing"

	"github.com/marmos91/afs/pkg/pathinfo"
)

// DAOTestSuite checks the pathinfo.DAO contract. Every backend runs it with
// its own factory; each test gets a fresh, empty DAO.
type DAOTestSuite struct {
	NewDAO func(t *testing.T) pathinfo.DAO
}

// Run executes all tests in the suite.
func (suite *DAOTestSuite) Run(test *testing.T) {
	test.Run("DataSet", suite.RunDataSetTests)
	test.Run("Files", suite.RunFileTests)
	test.Run("LastSeen", suite.RunLastSeenTests)
	test.Run("Transaction", suite.RunTransactionTests)
	test.Run("Indexer", suite.RunIndexerTests)
}
