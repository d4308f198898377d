// Package pathinfo is the path-info index: a relational view of the files
// of each indexed data set, plus the feeding task's high-water marks.
//
// Readers serve listings without touching the storage volume. Writes only
// happen inside a Tx so a data set is indexed completely or not at all.
package pathinfo

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a required record does not exist.
	ErrNotFound = errors.New("path info record not found")

	// ErrAlreadyExists is returned when a unique key is violated.
	ErrAlreadyExists = errors.New("path info record already exists")

	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = errors.New("path info transaction already finished")
)

// DataSet is an indexed data set.
type DataSet struct {
	ID       int64  `json:"id" db:"id"`
	Code     string `json:"code" db:"code"`
	Location string `json:"location" db:"location"`
}

// DataSetFileRecord is one file or directory of an indexed data set.
//
// RelativePath has no leading slash; the data set root has RelativePath ""
// and no parent. Directory sizes are the sum of the sizes below them.
type DataSetFileRecord struct {
	ID            int64     `json:"id"`
	DataSetID     int64     `json:"data_set_id"`
	ParentID      *int64    `json:"parent_id,omitempty"`
	RelativePath  string    `json:"relative_path"`
	FileName      string    `json:"file_name"`
	Directory     bool      `json:"is_directory"`
	SizeInBytes   int64     `json:"size_in_bytes"`
	LastModified  time.Time `json:"last_modified"`
	ChecksumCRC32 *uint32   `json:"checksum_crc32,omitempty"`
	Checksum      string    `json:"checksum,omitempty"`
}

// Reader is the read side of the index.
type Reader interface {
	// TryGetDataSetID returns the id of the data set with code, if indexed.
	TryGetDataSetID(ctx context.Context, code string) (int64, bool, error)

	// GetLastSeenTimestamp returns the feeding high-water mark of a data
	// store kind, or nil if none was recorded.
	GetLastSeenTimestamp(ctx context.Context, kind string) (*time.Time, error)

	// GetDataSetRootFile returns the root record. ErrNotFound if missing.
	GetDataSetRootFile(ctx context.Context, dataSetID int64) (*DataSetFileRecord, error)

	// TryGetRelativeDataSetFile returns the record at relativePath, or nil.
	TryGetRelativeDataSetFile(ctx context.Context, dataSetID int64, relativePath string) (*DataSetFileRecord, error)

	// ListChildren returns the direct children of a directory record,
	// sorted by relative path.
	ListChildren(ctx context.Context, dataSetID, parentID int64) ([]DataSetFileRecord, error)

	// ListDataSetFiles returns every record of a data set, sorted by
	// relative path.
	ListDataSetFiles(ctx context.Context, dataSetID int64) ([]DataSetFileRecord, error)

	// ListDataSetsSize returns the root size of each indexed code.
	ListDataSetsSize(ctx context.Context, codes []string) (map[string]int64, error)
}

// Tx is a write transaction on the index. Rollback after Commit is a no-op,
// so callers may always defer it.
type Tx interface {
	CreateDataSet(ctx context.Context, code, location string) (int64, error)
	CreateDataSetFile(ctx context.Context, file DataSetFileRecord) (int64, error)
	CreateDataSetFiles(ctx context.Context, files []DataSetFileRecord) error
	DeleteLastSeenTimestamp(ctx context.Context, kind string) error
	CreateLastSeenTimestamp(ctx context.Context, ts time.Time, kind string) error
	Commit() error
	Rollback() error
}

// DAO is a path-info backend.
type DAO interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// ListFiles returns the record at relativePath when it is a file, or the
// records below it when it is a directory: direct children, or every
// descendant in breadth-first order when recursive. found is false when
// relativePath is not indexed.
func ListFiles(ctx context.Context, r Reader, dataSetID int64, relativePath string, recursive bool) (files []DataSetFileRecord, found bool, err error) {
	rec, err := r.TryGetRelativeDataSetFile(ctx, dataSetID, relativePath)
	if err != nil || rec == nil {
		return nil, false, err
	}
	if !rec.Directory {
		return []DataSetFileRecord{*rec}, true, nil
	}

	queue := []int64{rec.ID}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		parent := queue[0]
		queue = queue[1:]

		children, err := r.ListChildren(ctx, dataSetID, parent)
		if err != nil {
			return nil, false, err
		}
		files = append(files, children...)
		if !recursive {
			break
		}
		for _, child := range children {
			if child.Directory {
				queue = append(queue, child.ID)
			}
		}
	}
	return files, true, nil
}
