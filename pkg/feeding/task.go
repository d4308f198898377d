// Package feeding keeps the path-info index in step with the storage volume.
//
// A Task pass picks up experiments and samples whose data became immutable
// since the last recorded high-water mark, indexes their data sets and moves
// the mark forward. Data sets are indexed at most once.
package feeding

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/entity"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/metrics"
	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/spf13/afero"
)

const (
	// DefaultChunkSize is the number of entities fetched per chunk.
	DefaultChunkSize = 1000

	// DefaultDataStoreKind keys the high-water mark in the index.
	DefaultDataStoreKind = "AFS"
)

// Dataset outcomes reported to metrics.
const (
	outcomeIndexed        = "indexed"
	outcomeSkippedIndexed = "skipped_indexed"
	outcomeSkippedMissing = "skipped_missing"
	outcomeFailed         = "failed"
)

// Config contains configuration for the feeding task.
type Config struct {
	// StorageRoot is the directory data set locations are relative to.
	StorageRoot string

	// ChunkSize is how many entities are fetched per chunk (default: 1000)
	ChunkSize int

	// MaxNumberOfChunks stops a pass after that many chunks (<= 0: unlimited).
	// Ignored when TimeLimit is set.
	MaxNumberOfChunks int

	// TimeLimit stops a pass once it has run that long (0: none)
	TimeLimit time.Duration

	// ComputeChecksum adds a ChecksumType digest to every indexed file.
	ComputeChecksum bool
	ChecksumType    string

	// DataStoreKind keys the high-water mark (default: "AFS")
	DataStoreKind string
}

// Locker serializes indexing with the transactions that touch a data set.
type Locker interface {
	Lock(ctx context.Context, locks ...lock.Lock) error
	Unlock(locks ...lock.Lock) error
}

// Task runs feeding passes. A Task is not safe for concurrent Execute calls;
// the Scheduler guarantees they never overlap.
type Task struct {
	entities entity.Client
	dao      pathinfo.DAO
	locks    Locker
	fs       afero.Fs
	indexer  *pathinfo.Indexer
	config   Config
	metrics  metrics.FeedingMetrics
	now      func() time.Time
}

// NewTask creates a feeding task. A nil m disables metrics.
func NewTask(entities entity.Client, dao pathinfo.DAO, locks Locker, fs afero.Fs, config Config, m metrics.FeedingMetrics) (*Task, error) {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.DataStoreKind == "" {
		config.DataStoreKind = DefaultDataStoreKind
	}
	if m == nil {
		m = metrics.NewNoopFeedingMetrics()
	}

	indexer, err := pathinfo.NewIndexer(fs, pathinfo.IndexerOptions{
		ComputeChecksum: config.ComputeChecksum,
		ChecksumType:    config.ChecksumType,
	})
	if err != nil {
		return nil, err
	}

	return &Task{
		entities: entities,
		dao:      dao,
		locks:    locks,
		fs:       fs,
		indexer:  indexer,
		config:   config,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Stats contains statistics from a feeding pass.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	Chunks    int
	Seen      int // data sets looked at
	Indexed   int
	Skipped   int
	Bytes     int64
	LastSeen  *time.Time
}

// Duration returns the total pass duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the pass.
func (s *Stats) Summary() string {
	return fmt.Sprintf("chunks=%d seen=%d indexed=%d skipped=%d bytes=%d duration=%s",
		s.Chunks, s.Seen, s.Indexed, s.Skipped, s.Bytes, s.Duration())
}

// stopCondition is checked after every chunk.
type stopCondition func() bool

func (t *Task) stopCondition() stopCondition {
	if t.config.TimeLimit > 0 {
		start := t.now()
		return func() bool {
			return t.now().Sub(start) > t.config.TimeLimit
		}
	}
	if t.config.MaxNumberOfChunks > 0 {
		count := 0
		return func() bool {
			count++
			return count >= t.config.MaxNumberOfChunks
		}
	}
	return func() bool { return false }
}

// Execute runs one feeding pass.
//
// A failure while indexing a data set aborts the pass with an
// IndexingFailure; data sets indexed before it stay indexed and the
// high-water mark keeps the value of the last completed chunk.
func (t *Task) Execute(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: t.now()}
	stop := t.stopCondition()
	processed := make(map[string]bool)

	logger.Info("Feeding: start (chunk_size=%d)", t.config.ChunkSize)

	stats, err := t.execute(ctx, stats, stop, processed)
	stats.EndTime = t.now()
	t.metrics.RecordRun(stats.Duration(), err)
	if err != nil {
		logger.Error("Feeding: aborted after %s: %v", stats.Summary(), err)
		return stats, err
	}
	logger.Info("Feeding: finished: %s", stats.Summary())
	return stats, nil
}

func (t *Task) execute(ctx context.Context, stats *Stats, stop stopCondition, processed map[string]bool) (*Stats, error) {
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		lastSeen, err := t.dao.GetLastSeenTimestamp(ctx, t.config.DataStoreKind)
		if err != nil {
			return stats, fmt.Errorf("load last seen timestamp: %w", err)
		}

		dates, dataSets, err := t.listDataSets(ctx, lastSeen)
		if err != nil {
			return stats, err
		}

		var fresh []entity.DataSet
		for _, ds := range dataSets {
			if !processed[ds.Code] {
				fresh = append(fresh, ds)
			}
		}

		var maxSeen *time.Time
		count := 0
		for _, ds := range fresh {
			size, err := t.feed(ctx, ds)
			stats.Seen++
			if err != nil {
				return stats, err
			}
			if size != nil {
				if err := t.entities.UpdateShareIDAndSize(ctx, ds.Code, ds.ShareID, *size); err != nil {
					return stats, fmt.Errorf("update share id and size of %s: %w", ds.Code, err)
				}
				stats.Indexed++
				stats.Bytes += *size
				count++
			} else {
				stats.Skipped++
			}
			processed[ds.Code] = true

			if ts, ok := dates[ds.Code]; ok && (maxSeen == nil || ts.After(*maxSeen)) {
				maxSeen = &ts
			}
		}
		logger.Info("Feeding: fed %d data set(s)", count)

		if maxSeen != nil {
			if err := t.replaceLastSeen(ctx, *maxSeen); err != nil {
				return stats, err
			}
			stats.LastSeen = maxSeen
			t.metrics.SetLastSeen(*maxSeen)
		}
		stats.Chunks++

		if len(fresh) < t.config.ChunkSize || stop() {
			return stats, nil
		}
	}
}

func (t *Task) replaceLastSeen(ctx context.Context, ts time.Time) error {
	tx, err := t.dao.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.DeleteLastSeenTimestamp(ctx, t.config.DataStoreKind); err != nil {
		return fmt.Errorf("delete last seen timestamp: %w", err)
	}
	if err := tx.CreateLastSeenTimestamp(ctx, ts, t.config.DataStoreKind); err != nil {
		return fmt.Errorf("create last seen timestamp: %w", err)
	}
	return tx.Commit()
}

// listDataSets returns the next chunk of data sets and the immutable data
// date of the entity each belongs to, keyed by data set code.
func (t *Task) listDataSets(ctx context.Context, lastSeen *time.Time) (map[string]time.Time, []entity.DataSet, error) {
	since := time.Unix(0, 0).UTC()
	inclusive := true
	if lastSeen != nil {
		since = *lastSeen
		inclusive = false
	}

	var all []entity.Entity
	for _, kind := range []entity.Kind{entity.KindExperiment, entity.KindSample} {
		found, err := t.search(ctx, kind, since, inclusive, t.config.ChunkSize)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, found...)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ImmutableDataDate.Before(*all[j].ImmutableDataDate)
	})

	// take a chunk, extended so that entities sharing the last date are
	// never split across chunks
	dates := make(map[string]time.Time)
	var codes []string
	var last time.Time
	for i, e := range all {
		if i >= t.config.ChunkSize && !e.ImmutableDataDate.Equal(last) {
			break
		}
		last = *e.ImmutableDataDate
		dates[e.PermID] = last
		codes = append(codes, e.PermID)
	}

	// data set codes equal the perm ids of their owners
	dataSets, err := t.entities.ListDataSets(ctx, codes)
	if err != nil {
		return nil, nil, fmt.Errorf("list data sets: %w", err)
	}
	return dates, dataSets, nil
}

// search fetches up to count entities of kind. When the result is full and
// every entity carries the same date the boundary cannot be moved past that
// date, so the fetch is retried with twice the count.
func (t *Task) search(ctx context.Context, kind entity.Kind, since time.Time, inclusive bool, count int) ([]entity.Entity, error) {
	found, err := t.entities.SearchEntities(ctx, entity.SearchCriteria{
		Kind:      kind,
		Since:     since,
		Inclusive: inclusive,
		Limit:     count,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s entities: %w", kind, err)
	}

	dated := make([]entity.Entity, 0, len(found))
	for _, e := range found {
		if e.ImmutableDataDate != nil {
			dated = append(dated, e)
		}
	}
	if len(found) < count || !sameDate(dated) {
		return dated, nil
	}

	logger.Warn("Feeding: at least %d %s entities share immutable data date %s, retrying with %d",
		count, kind, dated[0].ImmutableDataDate.Format(time.RFC3339), 2*count)
	return t.search(ctx, kind, since, inclusive, 2*count)
}

func sameDate(entities []entity.Entity) bool {
	if len(entities) == 0 {
		return false
	}
	first := *entities[0].ImmutableDataDate
	for _, e := range entities[1:] {
		if !e.ImmutableDataDate.Equal(first) {
			return false
		}
	}
	return true
}

// feed indexes one data set under an exclusive lock on its folder. It
// returns the data set size, or nil when the data set was skipped.
func (t *Task) feed(ctx context.Context, ds entity.DataSet) (*int64, error) {
	rel := storage.DataSetPath(ds.ShareID, ds.Location)
	l := lock.Lock{
		Owner:    "feeding-" + uuid.NewString(),
		Resource: rel,
		Type:     lock.HierarchicallyExclusive,
	}
	if err := t.locks.Lock(ctx, l); err != nil {
		return nil, fmt.Errorf("lock data set %s: %w", ds.Code, err)
	}
	defer func() {
		if err := t.locks.Unlock(l); err != nil {
			logger.Warn("Feeding: unlock data set %s: %v", ds.Code, err)
		}
	}()

	if _, ok, err := t.dao.TryGetDataSetID(ctx, ds.Code); err != nil {
		t.metrics.RecordDataSet(outcomeFailed)
		return nil, afs.Wrap(afs.ErrIndexingFailure, err, "path info lookup failed", ds.Code)
	} else if ok {
		logger.Info("Feeding: data set %s already exists in the path info database, skipping", ds.Code)
		t.metrics.RecordDataSet(outcomeSkippedIndexed)
		return nil, nil
	}

	root := filepath.Join(t.config.StorageRoot, filepath.FromSlash(rel))
	exists, err := afero.DirExists(t.fs, root)
	if err != nil {
		logger.Error("Feeding: couldn't stat root directory of data set %s: %v", ds.Code, err)
		t.metrics.RecordDataSet(outcomeFailed)
		return nil, afs.Wrap(afs.ErrIndexingFailure, err, "stat data set root", ds.Code)
	}
	if !exists {
		logger.Error("Feeding: root directory of data set %s does not exist: %s", ds.Code, root)
		t.metrics.RecordDataSet(outcomeSkippedMissing)
		return nil, nil
	}

	tx, err := t.dao.Begin(ctx)
	if err != nil {
		t.metrics.RecordDataSet(outcomeFailed)
		return nil, afs.Wrap(afs.ErrIndexingFailure, err, "begin path info transaction", ds.Code)
	}
	defer tx.Rollback()

	result, err := t.indexer.AddPaths(ctx, tx, ds.Code, ds.Location, root)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		logger.Error("Feeding: couldn't index data set %s: %v", ds.Code, err)
		t.metrics.RecordDataSet(outcomeFailed)
		return nil, afs.Wrap(afs.ErrIndexingFailure, err, "indexing failed", ds.Code)
	}

	logger.Info("Feeding: paths of data set %s added to the path info database, size=%d files=%d",
		ds.Code, result.Size, result.Files)
	t.metrics.RecordDataSet(outcomeIndexed)
	return &result.Size, nil
}
