package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/adapter"
	"github.com/marmos91/afs/pkg/config"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/server"
	"github.com/spf13/cobra"
)

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		Long:  "Recover interrupted transactions, then serve requests until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, *configPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	if configPath == "" && !config.ConfigExists() {
		fmt.Fprintf(os.Stderr, "No config file at %s, using defaults (run 'afs init' to create one)\n", config.GetDefaultConfigPath())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("AFS %s starting", version)
	logger.Info("Storage root: %s, WAL root: %s, layout: %s", cfg.Storage.Root, cfg.Storage.WALRoot, cfg.Storage.Layout)

	m := config.InitializeMetrics(cfg)
	locks := lock.NewManager(m.Lock)

	txm, err := config.CreateTransactionManager(&cfg.Storage, locks)
	if err != nil {
		return fmt.Errorf("failed to create transaction manager: %w", err)
	}

	// Interrupted transactions must be settled before the first request
	stats, err := txm.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	logger.Info("Recovery: %d committed, %d pending, %d discarded, %d failed",
		stats.Committed, stats.Pending, stats.Discarded, stats.Failed)

	entities, err := config.CreateEntityClient(&cfg.Entity)
	if err != nil {
		return err
	}

	dao, err := config.CreatePathInfoStore(ctx, &cfg.PathInfo)
	if err != nil {
		return fmt.Errorf("failed to open path index: %w", err)
	}
	defer func() {
		if err := dao.Close(); err != nil {
			logger.Warn("Failed to close path index: %v", err)
		}
	}()
	logger.Info("Entity system: %s, path index: %s", cfg.Entity.Type, cfg.PathInfo.Type)

	guard := config.CreateGuard(&cfg.API, entities)
	chain := config.CreateObserverChain(&cfg.API, entities, guard, dao)
	if names := chain.Names(); len(names) > 0 {
		logger.Info("Observers: %v", names)
	}
	apiServer := config.CreateAPIServer(cfg, txm, guard, chain, m.API)

	srv := server.New(adapter.Backend{API: apiServer, Guard: guard, Index: dao}, cfg.Server.ShutdownTimeout)

	adapters, err := config.CreateAdapters(cfg)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	scheduler, err := config.CreateFeedingScheduler(cfg, entities, dao, locks, m.Feeding)
	if err != nil {
		return err
	}
	srv.AddService(scheduler)

	if m.Server != nil {
		srv.AddService(m.Server)
		logger.Info("Metrics enabled on port %d", cfg.Metrics.Port)
	}

	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("AFS stopped")
	return nil
}
