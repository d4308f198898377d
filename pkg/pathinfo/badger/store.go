// Package badger is a persistent path-info DAO on an embedded BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/pathinfo"
)

// Config configures the badger DAO.
type Config struct {
	// Path is the database directory. Created if missing.
	Path string `mapstructure:"path"`

	// InMemory keeps everything in memory; Path is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is badger's block cache size (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is badger's index cache size (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Store implements pathinfo.DAO using BadgerDB.
//
// Every Tx is a badger read-write transaction, so a data set is visible to
// readers only once its whole tree is committed. Concurrent writers that
// touch the same keys fail at Commit with badger.ErrConflict.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ pathinfo.DAO = (*Store)(nil)

// Open opens (or creates) the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence([]byte(keySequence), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	logger.Info("Path info store opened: path=%q in_memory=%v", cfg.Path, cfg.InMemory)
	return &Store{db: db, seq: seq}, nil
}

func (s *Store) nextID() (int64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	// badger sequences start at 0; 0 is reserved for "no parent"
	return int64(n) + 1, nil
}

func (s *Store) TryGetDataSetID(ctx context.Context, code string) (int64, bool, error) {
	var ds pathinfo.DataSet
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := getJSON(txn, keyDataSet(code), &ds)
		found = ok
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return ds.ID, found, nil
}

func (s *Store) GetLastSeenTimestamp(ctx context.Context, kind string) (*time.Time, error) {
	var ts time.Time
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := getJSON(txn, keyLastSeen(kind), &ts)
		found = ok
		return err
	})
	if err != nil || !found {
		return nil, err
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
	var rec pathinfo.DataSetFileRecord
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := getJSON(txn, keyFile(dataSetID, relativePath), &rec)
		found = ok
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListChildren(ctx context.Context, dataSetID, parentID int64) ([]pathinfo.DataSetFileRecord, error) {
	return s.scan(ctx, keyChildrenOf(dataSetID, parentID))
}

func (s *Store) ListDataSetFiles(ctx context.Context, dataSetID int64) ([]pathinfo.DataSetFileRecord, error) {
	return s.scan(ctx, keyFilesOf(dataSetID))
}

func (s *Store) ListDataSetsSize(ctx context.Context, codes []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(codes))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, code := range codes {
			var ds pathinfo.DataSet
			ok, err := getJSON(txn, keyDataSet(code), &ds)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			var root pathinfo.DataSetFileRecord
			ok, err = getJSON(txn, keyFile(ds.ID, ""), &root)
			if err != nil {
				return err
			}
			if ok {
				sizes[code] = root.SizeInBytes
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sizes, nil
}

func (s *Store) scan(ctx context.Context, prefix []byte) ([]pathinfo.DataSetFileRecord, error) {
	var out []pathinfo.DataSetFileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec pathinfo.DataSetFileRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Begin(ctx context.Context) (pathinfo.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s, txn: s.db.NewTransaction(true)}, nil
}

// Close releases the id sequence and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release id sequence: %v", err)
	}
	return s.db.Close()
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

type tx struct {
	store *Store
	txn   *badger.Txn
	done  bool
}

func (t *tx) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := t.txn.Set(key, data); err != nil {
		// TODO: split oversized data set trees across badger transactions
		if errors.Is(err, badger.ErrTxnTooBig) {
			return fmt.Errorf("data set tree too large for a single transaction: %w", err)
		}
		return err
	}
	return nil
}

func (t *tx) exists(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *tx) CreateDataSet(ctx context.Context, code, location string) (int64, error) {
	if t.done {
		return 0, pathinfo.ErrTxDone
	}
	key := keyDataSet(code)
	ok, err := t.exists(key)
	if err != nil {
		return 0, err
	}
	if ok {
		return 0, fmt.Errorf("data set %s: %w", code, pathinfo.ErrAlreadyExists)
	}

	id, err := t.store.nextID()
	if err != nil {
		return 0, err
	}
	if err := t.set(key, pathinfo.DataSet{ID: id, Code: code, Location: location}); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *tx) CreateDataSetFile(ctx context.Context, file pathinfo.DataSetFileRecord) (int64, error) {
	if t.done {
		return 0, pathinfo.ErrTxDone
	}
	key := keyFile(file.DataSetID, file.RelativePath)
	ok, err := t.exists(key)
	if err != nil {
		return 0, err
	}
	if ok {
		return 0, fmt.Errorf("data set %d file %q: %w", file.DataSetID, file.RelativePath, pathinfo.ErrAlreadyExists)
	}

	id, err := t.store.nextID()
	if err != nil {
		return 0, err
	}
	file.ID = id
	if err := t.set(key, file); err != nil {
		return 0, err
	}
	if file.ParentID != nil {
		if err := t.set(keyChild(file.DataSetID, *file.ParentID, file.RelativePath), file); err != nil {
			return 0, err
		}
	}
	return id, nil
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
	return t.txn.Delete(keyLastSeen(kind))
}

func (t *tx) CreateLastSeenTimestamp(ctx context.Context, ts time.Time, kind string) error {
	if t.done {
		return pathinfo.ErrTxDone
	}
	key := keyLastSeen(kind)
	ok, err := t.exists(key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("last seen timestamp %s: %w", kind, pathinfo.ErrAlreadyExists)
	}
	return t.set(key, ts)
}

func (t *tx) Commit() error {
	if t.done {
		return pathinfo.ErrTxDone
	}
	t.done = true
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("commit path info transaction: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}
