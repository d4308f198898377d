package config

import (
	"context"
	"fmt"

	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/entity"
	"github.com/marmos91/afs/pkg/entity/httpclient"
	entitymemory "github.com/marmos91/afs/pkg/entity/memory"
	"github.com/marmos91/afs/pkg/feeding"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/metrics"
	"github.com/marmos91/afs/pkg/observer"
	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/marmos91/afs/pkg/pathinfo/badger"
	pathinfomemory "github.com/marmos91/afs/pkg/pathinfo/memory"
	"github.com/marmos91/afs/pkg/pathinfo/postgres"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/marmos91/afs/pkg/txn"
	"github.com/marmos91/afs/pkg/worker"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

// decodeOptions decodes a type-specific section. Durations may be written
// as strings ("30s") and scalars are converted leniently, matching what
// viper does for the typed sections.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// CreateEntityClient creates the entity-system client selected by cfg.Type.
//
// Supported types:
//   - "memory": in-process entity system (development and tests)
//   - "http": JSON-RPC client of a remote entity system
func CreateEntityClient(cfg *EntityConfig) (entity.Client, error) {
	switch cfg.Type {
	case "memory":
		var memCfg entitymemory.Config
		if err := decodeOptions(cfg.Memory, &memCfg); err != nil {
			return nil, fmt.Errorf("invalid memory entity config: %w", err)
		}
		if memCfg.AllowAll {
			logger.Warn("In-memory entity system accepts every session: do not use in production")
		}
		return entitymemory.New(memCfg), nil
	case "http":
		var httpCfg httpclient.Config
		if err := decodeOptions(cfg.HTTP, &httpCfg); err != nil {
			return nil, fmt.Errorf("invalid http entity config: %w", err)
		}
		if err := validate.Struct(&httpCfg); err != nil {
			return nil, fmt.Errorf("entity.http: %w", formatValidationError(err))
		}
		client, err := httpclient.New(httpCfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown entity client type: %q", cfg.Type)
	}
}

// CreatePathInfoStore opens the path index backend selected by cfg.Type.
//
// Supported types:
//   - "memory": volatile, rebuilt by the feeding task after each restart
//   - "badger": embedded BadgerDB database
//   - "postgres": PostgreSQL through lib/pq or pgx
func CreatePathInfoStore(ctx context.Context, cfg *PathInfoConfig) (pathinfo.DAO, error) {
	switch cfg.Type {
	case "memory":
		return pathinfomemory.New(), nil
	case "badger":
		var badgerCfg badger.Config
		if err := decodeOptions(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("invalid badger config: %w", err)
		}
		if badgerCfg.Path == "" && !badgerCfg.InMemory {
			return nil, fmt.Errorf("pathinfo.badger: path is required")
		}
		store, err := badger.Open(ctx, badgerCfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		var pgCfg postgres.Config
		if err := decodeOptions(cfg.Postgres, &pgCfg); err != nil {
			return nil, fmt.Errorf("invalid postgres config: %w", err)
		}
		if err := validate.Struct(&pgCfg); err != nil {
			return nil, fmt.Errorf("pathinfo.postgres: %w", formatValidationError(err))
		}
		store, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown path info store type: %q", cfg.Type)
	}
}

// CreateLayout returns the owner layout selected by cfg.Layout.
func CreateLayout(cfg *StorageConfig) storage.Layout {
	if cfg.Layout == "flat" {
		return storage.FlatLayout{}
	}
	return storage.ShardedLayout{ShareID: cfg.ShareID, StorageUUID: cfg.StorageUUID}
}

// CreateTransactionManager creates the transaction manager over the OS
// filesystem. Both roots are created when missing.
func CreateTransactionManager(cfg *StorageConfig, locks *lock.Manager) (*txn.Manager, error) {
	fs := afero.NewOsFs()
	for _, dir := range []string{cfg.Root, cfg.WALRoot} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	txCfg := txn.Config{
		StorageRoot: cfg.Root,
		WALRoot:     cfg.WALRoot,
		Space:       storage.OSProbe{},
	}
	if cfg.CheckSameVolume {
		txCfg.Volumes = storage.OSProbe{}
	}
	return txn.NewManager(fs, locks, txCfg)
}

// CreateGuard creates the session and rights guard shared by the API
// server and the adapters.
func CreateGuard(cfg *APIConfig, entities entity.Client) *worker.Guard {
	return worker.NewGuard(entities, entities, cfg.RightsCacheSize, cfg.RightsCacheTTL)
}

// CreateObserverChain builds the enabled observers in execution order.
func CreateObserverChain(cfg *APIConfig, entities entity.Client, guard *worker.Guard, index pathinfo.Reader) *api.Chain {
	chain := api.NewChain()
	if cfg.PathIndexListing && index != nil {
		chain.Add(observer.NewPathIndexLister(index))
	}
	if cfg.RegisterDataSets {
		chain.Add(observer.NewDataSetRegistrar(entities, guard, cfg.InteractiveSessionKey))
	}
	return chain
}

// CreateAPIServer creates the request processor.
func CreateAPIServer(cfg *Config, txm *txn.Manager, guard *worker.Guard, chain *api.Chain, m metrics.APIMetrics) *api.Server {
	return api.NewServer(txm, CreateLayout(&cfg.Storage), guard, chain, m, api.Config{
		InteractiveSessionKey: cfg.API.InteractiveSessionKey,
		TransactionManagerKey: cfg.API.TransactionManagerKey,
		SessionTimeout:        cfg.API.SessionTimeout,
		MaxSessions:           cfg.API.MaxSessions,
		MaxReadSize:           cfg.API.MaxReadSize,
	})
}

// CreateFeedingScheduler creates the feeding task and the scheduler that
// runs it. The task reads data set folders from the OS filesystem.
func CreateFeedingScheduler(cfg *Config, entities entity.Client, dao pathinfo.DAO, locks feeding.Locker, m metrics.FeedingMetrics) (*feeding.Scheduler, error) {
	task, err := feeding.NewTask(entities, dao, locks, afero.NewOsFs(), feeding.Config{
		StorageRoot:       cfg.Storage.Root,
		ChunkSize:         cfg.Feeding.ChunkSize,
		MaxNumberOfChunks: cfg.Feeding.MaxNumberOfChunks,
		TimeLimit:         cfg.Feeding.TimeLimit,
		ComputeChecksum:   cfg.Feeding.ComputeChecksum,
		ChecksumType:      cfg.Feeding.ChecksumType,
		DataStoreKind:     cfg.Feeding.DataStoreKind,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create feeding task: %w", err)
	}

	return feeding.NewScheduler(task, feeding.SchedulerConfig{
		Enabled:     cfg.Feeding.Enabled,
		Schedule:    cfg.Feeding.Schedule,
		RunOnStart:  cfg.Feeding.RunOnStart,
		PassTimeout: cfg.Feeding.PassTimeout,
	})
}
