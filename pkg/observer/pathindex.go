package observer

import (
	"context"
	"sort"
	"strings"

	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/pathinfo"
)

// PathIndexLister answers list calls from the path index when the owner's
// data set is indexed and the path is in the index. Everything else falls
// through to the file store.
type PathIndexLister struct {
	index pathinfo.Reader
}

func NewPathIndexLister(index pathinfo.Reader) *PathIndexLister {
	return &PathIndexLister{index: index}
}

func (l *PathIndexLister) Name() string {
	return "path-index-lister"
}

func (l *PathIndexLister) DuringCall(ctx context.Context, call *api.Call) (any, bool, error) {
	// The index does not see uncommitted operations.
	if call.Method() != api.MethodList || call.Worker.HasPendingOperations() {
		return nil, false, nil
	}

	p := call.Request.Params
	owner := p.PrimaryOwner()
	source, err := afs.NormalizePath(p.Source)
	if err != nil {
		return nil, false, nil
	}

	id, ok, err := l.index.TryGetDataSetID(ctx, owner)
	if err != nil {
		logger.Warn("Path index lookup of %s failed, listing the store: %v", owner, err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	records, found, err := pathinfo.ListFiles(ctx, l.index, id, strings.TrimPrefix(source, "/"), p.Recursively)
	if err != nil {
		logger.Warn("Path index listing of %s:%s failed, listing the store: %v", owner, source, err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	logger.Debug("Listing %s:%s from the path index (%d entries)", owner, source, len(records))
	return FilesFromRecords(owner, records), true, nil
}

// FilesFromRecords converts path index records to owner-relative files,
// sorted by path.
func FilesFromRecords(owner string, records []pathinfo.DataSetFileRecord) []afs.File {
	files := make([]afs.File, 0, len(records))
	for _, rec := range records {
		f := afs.File{
			Owner:            owner,
			Path:             "/" + rec.RelativePath,
			Name:             rec.FileName,
			Directory:        rec.Directory,
			LastModifiedTime: rec.LastModified,
		}
		if !rec.Directory {
			size := rec.SizeInBytes
			f.Size = &size
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}
