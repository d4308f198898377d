// Package memory is an in-process path-info DAO. Nothing survives a restart;
// it backs tests and single-node setups that rebuild the index on start.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/marmos91/afs/pkg/pathinfo"
)

const degree = 32

// Store implements pathinfo.DAO with two ordered indexes over the same
// records: by (data set, relative path) and by (data set, parent, path).
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	dataSets map[string]pathinfo.DataSet
	byPath   *btree.BTreeG[pathinfo.DataSetFileRecord]
	byParent *btree.BTreeG[pathinfo.DataSetFileRecord]
	lastSeen map[string]time.Time
	closed   bool
}

var _ pathinfo.DAO = (*Store)(nil)

func lessPath(a, b pathinfo.DataSetFileRecord) bool {
	if a.DataSetID != b.DataSetID {
		return a.DataSetID < b.DataSetID
	}
	return a.RelativePath < b.RelativePath
}

func parentOf(r pathinfo.DataSetFileRecord) int64 {
	if r.ParentID == nil {
		return 0
	}
	return *r.ParentID
}

func lessParent(a, b pathinfo.DataSetFileRecord) bool {
	if a.DataSetID != b.DataSetID {
		return a.DataSetID < b.DataSetID
	}
	if pa, pb := parentOf(a), parentOf(b); pa != pb {
		return pa < pb
	}
	return a.RelativePath < b.RelativePath
}

// New creates an empty store.
func New() *Store {
	return &Store{
		dataSets: make(map[string]pathinfo.DataSet),
		byPath:   btree.NewG(degree, lessPath),
		byParent: btree.NewG(degree, lessParent),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *Store) TryGetDataSetID(ctx context.Context, code string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.dataSets[code]
	return ds.ID, ok, nil
}

func (s *Store) GetLastSeenTimestamp(ctx context.Context, kind string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.lastSeen[kind]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (s *Store) GetDataSetRootFile(ctx context.Context, dataSetID int64) (*pathinfo.DataSetFileRecord, error) {
	rec, err := s.TryGetRelativeDataSetFile(ctx, dataSetID, "")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("root of data set %d: %w", dataSetID, pathinfo.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) TryGetRelativeDataSetFile(ctx context.Context, dataSetID int64, relativePath string) (*pathinfo.DataSetFileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byPath.Get(pathinfo.DataSetFileRecord{DataSetID: dataSetID, RelativePath: relativePath})
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) ListChildren(ctx context.Context, dataSetID, parentID int64) ([]pathinfo.DataSetFileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pivot := pathinfo.DataSetFileRecord{DataSetID: dataSetID, ParentID: &parentID}
	var out []pathinfo.DataSetFileRecord
	s.byParent.AscendGreaterOrEqual(pivot, func(r pathinfo.DataSetFileRecord) bool {
		if r.DataSetID != dataSetID || parentOf(r) != parentID {
			return false
		}
		out = append(out, r)
		return true
	})
	return out, nil
}

func (s *Store) ListDataSetFiles(ctx context.Context, dataSetID int64) ([]pathinfo.DataSetFileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []pathinfo.DataSetFileRecord
	s.byPath.AscendGreaterOrEqual(pathinfo.DataSetFileRecord{DataSetID: dataSetID}, func(r pathinfo.DataSetFileRecord) bool {
		if r.DataSetID != dataSetID {
			return false
		}
		out = append(out, r)
		return true
	})
	return out, nil
}

func (s *Store) ListDataSetsSize(ctx context.Context, codes []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sizes := make(map[string]int64, len(codes))
	for _, code := range codes {
		ds, ok := s.dataSets[code]
		if !ok {
			continue
		}
		if root, ok := s.byPath.Get(pathinfo.DataSetFileRecord{DataSetID: ds.ID}); ok {
			sizes[code] = root.SizeInBytes
		}
	}
	return sizes, nil
}

// DataSets returns every indexed data set ordered by code.
func (s *Store) DataSets() []pathinfo.DataSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pathinfo.DataSet, 0, len(s.dataSets))
	for _, ds := range s.dataSets {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *Store) Begin(ctx context.Context) (pathinfo.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("memory path info store is closed")
	}
	return &tx{store: s}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) allocate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// tx buffers writes and applies them atomically on Commit.
type tx struct {
	store    *Store
	dataSets []pathinfo.DataSet
	files    []pathinfo.DataSetFileRecord
	deleted  []string
	lastSeen map[string]time.Time
	done     bool
}

func (t *tx) CreateDataSet(ctx context.Context, code, location string) (int64, error) {
	if t.done {
		return 0, pathinfo.ErrTxDone
	}
	if _, ok, _ := t.store.TryGetDataSetID(ctx, code); ok {
		return 0, fmt.Errorf("data set %s: %w", code, pathinfo.ErrAlreadyExists)
	}
	for _, ds := range t.dataSets {
		if ds.Code == code {
			return 0, fmt.Errorf("data set %s: %w", code, pathinfo.ErrAlreadyExists)
		}
	}
	ds := pathinfo.DataSet{ID: t.store.allocate(), Code: code, Location: location}
	t.dataSets = append(t.dataSets, ds)
	return ds.ID, nil
}

func (t *tx) CreateDataSetFile(ctx context.Context, file pathinfo.DataSetFileRecord) (int64, error) {
	if t.done {
		return 0, pathinfo.ErrTxDone
	}
	file.ID = t.store.allocate()
	t.files = append(t.files, file)
	return file.ID, nil
}

func (t *tx) CreateDataSetFiles(ctx context.Context, files []pathinfo.DataSetFileRecord) error {
	for _, f := range files {
		if _, err := t.CreateDataSetFile(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) DeleteLastSeenTimestamp(ctx context.Context, kind string) error {
	if t.done {
		return pathinfo.ErrTxDone
	}
	delete(t.lastSeen, kind)
	t.deleted = append(t.deleted, kind)
	return nil
}

func (t *tx) CreateLastSeenTimestamp(ctx context.Context, ts time.Time, kind string) error {
	if t.done {
		return pathinfo.ErrTxDone
	}
	if t.lastSeen == nil {
		t.lastSeen = make(map[string]time.Time)
	}
	if _, ok := t.lastSeen[kind]; ok {
		return fmt.Errorf("last seen timestamp %s: %w", kind, pathinfo.ErrAlreadyExists)
	}
	t.lastSeen[kind] = ts
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return pathinfo.ErrTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ds := range t.dataSets {
		if _, ok := s.dataSets[ds.Code]; ok {
			return fmt.Errorf("data set %s: %w", ds.Code, pathinfo.ErrAlreadyExists)
		}
	}
	for _, f := range t.files {
		if s.byPath.Has(f) {
			return fmt.Errorf("data set %d file %q: %w", f.DataSetID, f.RelativePath, pathinfo.ErrAlreadyExists)
		}
	}
	removed := make(map[string]bool, len(t.deleted))
	for _, kind := range t.deleted {
		removed[kind] = true
	}
	for kind := range t.lastSeen {
		if _, ok := s.lastSeen[kind]; ok && !removed[kind] {
			return fmt.Errorf("last seen timestamp %s: %w", kind, pathinfo.ErrAlreadyExists)
		}
	}

	for _, ds := range t.dataSets {
		s.dataSets[ds.Code] = ds
	}
	for _, f := range t.files {
		s.byPath.ReplaceOrInsert(f)
		s.byParent.ReplaceOrInsert(f)
	}
	for kind := range removed {
		delete(s.lastSeen, kind)
	}
	for kind, ts := range t.lastSeen {
		s.lastSeen[kind] = ts
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return nil
}
