package badger

import (
	"fmt"
)

// Key Namespace
// =============
//
// Data Type          Prefix  Key Format                         Value
// ===================================================================================
// Data Sets          "ds:"   ds:<code>                          DataSet (JSON)
// Files              "f:"    f:<dataSetID>:<relativePath>       DataSetFileRecord (JSON)
// Children           "c:"    c:<dataSetID>:<parentID>:<path>    DataSetFileRecord (JSON)
// Last Feeding Event "lfe:"  lfe:<dataStoreKind>                time (RFC 3339, JSON)
// Id Sequence        "seq:"  seq:id                             badger sequence
//
// Ids are printed as 16 hex digits so that lexical key order is numeric
// order. The root record of a data set has the empty relative path, so its
// key is "f:<dataSetID>:" and a prefix scan of that key lists the data set
// in relative path order with the root first.
//
// Records are immutable once indexed, so the children entries carry a full
// copy of the record instead of pointing back at the "f:" key. Listing a
// directory is a single prefix scan.

const (
	prefixDataSet     = "ds:"
	prefixFile        = "f:"
	prefixChild       = "c:"
	prefixLastSeen    = "lfe:"
	keySequence       = "seq:id"
	sequenceBandwidth = 256
)

func keyDataSet(code string) []byte {
	return []byte(prefixDataSet + code)
}

func keyFilesOf(dataSetID int64) []byte {
	return []byte(fmt.Sprintf("%s%016x:", prefixFile, dataSetID))
}

func keyFile(dataSetID int64, relativePath string) []byte {
	return append(keyFilesOf(dataSetID), relativePath...)
}

func keyChildrenOf(dataSetID, parentID int64) []byte {
	return []byte(fmt.Sprintf("%s%016x:%016x:", prefixChild, dataSetID, parentID))
}

func keyChild(dataSetID, parentID int64, relativePath string) []byte {
	return append(keyChildrenOf(dataSetID, parentID), relativePath...)
}

func keyLastSeen(kind string) []byte {
	return []byte(prefixLastSeen + kind)
}
