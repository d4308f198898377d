package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/afs/pkg/entity/httpclient"
	entitymemory "github.com/marmos91/afs/pkg/entity/memory"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/pathinfo/badger"
	pathinfomemory "github.com/marmos91/afs/pkg/pathinfo/memory"
	"github.com/marmos91/afs/pkg/storage"
)

func TestCreateEntityClient_Memory(t *testing.T) {
	cfg := &EntityConfig{Type: "memory", Memory: map[string]any{"sessions": []any{"tok"}}}

	client, err := CreateEntityClient(cfg)
	if err != nil {
		t.Fatalf("CreateEntityClient failed: %v", err)
	}
	if _, ok := client.(*entitymemory.Client); !ok {
		t.Fatalf("Expected memory client, got %T", client)
	}
	valid, err := client.IsSessionValid(context.Background(), "tok")
	if err != nil || !valid {
		t.Errorf("Expected configured session to be valid, got %v, %v", valid, err)
	}
}

func TestCreateEntityClient_HTTP(t *testing.T) {
	cfg := &EntityConfig{Type: "http", HTTP: map[string]any{
		"url":     "https://entities.example.org/rpc",
		"timeout": "5s",
	}}

	client, err := CreateEntityClient(cfg)
	if err != nil {
		t.Fatalf("CreateEntityClient failed: %v", err)
	}
	if _, ok := client.(*httpclient.Client); !ok {
		t.Fatalf("Expected http client, got %T", client)
	}
}

func TestCreateEntityClient_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  EntityConfig
		want string
	}{
		{"missing url", EntityConfig{Type: "http", HTTP: map[string]any{}}, "entity.http"},
		{"bad url", EntityConfig{Type: "http", HTTP: map[string]any{"url": "not a url"}}, "entity.http"},
		{"bad duration", EntityConfig{Type: "http", HTTP: map[string]any{"url": "http://x", "timeout": "soon"}}, "invalid http entity config"},
		{"unknown type", EntityConfig{Type: "ldap"}, "unknown entity client type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateEntityClient(&tt.cfg)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestCreatePathInfoStore_Memory(t *testing.T) {
	dao, err := CreatePathInfoStore(context.Background(), &PathInfoConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("CreatePathInfoStore failed: %v", err)
	}
	defer func() { _ = dao.Close() }()

	if _, ok := dao.(*pathinfomemory.Store); !ok {
		t.Fatalf("Expected memory store, got %T", dao)
	}
}

func TestCreatePathInfoStore_Badger(t *testing.T) {
	cfg := &PathInfoConfig{Type: "badger", Badger: map[string]any{
		"path": filepath.Join(t.TempDir(), "pathinfo"),
	}}

	dao, err := CreatePathInfoStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("CreatePathInfoStore failed: %v", err)
	}
	defer func() { _ = dao.Close() }()

	if _, ok := dao.(*badger.Store); !ok {
		t.Fatalf("Expected badger store, got %T", dao)
	}
}

func TestCreatePathInfoStore_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := CreatePathInfoStore(ctx, &PathInfoConfig{Type: "badger", Badger: map[string]any{}}); err == nil {
		t.Error("Expected error for badger without path")
	}
	if _, err := CreatePathInfoStore(ctx, &PathInfoConfig{Type: "postgres", Postgres: map[string]any{"driver": "pgx"}}); err == nil {
		t.Error("Expected error for postgres without dsn")
	}
	if _, err := CreatePathInfoStore(ctx, &PathInfoConfig{Type: "postgres", Postgres: map[string]any{"dsn": "x", "driver": "mysql"}}); err == nil {
		t.Error("Expected error for unsupported postgres driver")
	}
	if _, err := CreatePathInfoStore(ctx, &PathInfoConfig{Type: "sqlite"}); err == nil {
		t.Error("Expected error for unknown type")
	}
}

func TestCreateLayout(t *testing.T) {
	flat := CreateLayout(&StorageConfig{Layout: "flat"})
	if _, ok := flat.(storage.FlatLayout); !ok {
		t.Errorf("Expected flat layout, got %T", flat)
	}

	sharded := CreateLayout(&StorageConfig{Layout: "sharded", ShareID: "2", StorageUUID: "u"})
	p := sharded.Place("E1")
	if p.ShareID != "2" || !strings.HasPrefix(p.Location, "u/") || !strings.HasSuffix(p.Location, "/E1") {
		t.Errorf("Unexpected sharded placement: %+v", p)
	}
}

func TestCreateTransactionManager(t *testing.T) {
	dir := t.TempDir()
	cfg := &StorageConfig{
		Root:    filepath.Join(dir, "storage"),
		WALRoot: filepath.Join(dir, "wal"),
	}

	txm, err := CreateTransactionManager(cfg, lock.NewManager(nil))
	if err != nil {
		t.Fatalf("CreateTransactionManager failed: %v", err)
	}
	for _, p := range []string{cfg.Root, cfg.WALRoot} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("Expected %s to be created", p)
		}
	}

	stats, err := txm.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover on a fresh log root failed: %v", err)
	}
	if stats.Committed != 0 {
		t.Errorf("Expected nothing to recover, got %+v", stats)
	}
}

func TestCreateObserverChain(t *testing.T) {
	entities := entitymemory.New(entitymemory.Config{AllowAll: true})
	guard := CreateGuard(&APIConfig{}, entities)
	index := pathinfomemory.New()

	full := CreateObserverChain(&APIConfig{RegisterDataSets: true, PathIndexListing: true}, entities, guard, index)
	if got := full.Names(); len(got) != 2 || got[0] != "path-index-lister" || got[1] != "dataset-registrar" {
		t.Errorf("Unexpected observers: %v", got)
	}

	none := CreateObserverChain(&APIConfig{PathIndexListing: true}, entities, guard, nil)
	if got := none.Names(); len(got) != 0 {
		t.Errorf("Expected no observers, got %v", got)
	}
}

func TestCreateFeedingScheduler(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Feeding.Schedule = "@every 1h"
	entities := entitymemory.New(entitymemory.Config{})

	scheduler, err := CreateFeedingScheduler(cfg, entities, pathinfomemory.New(), lock.NewManager(nil), nil)
	if err != nil {
		t.Fatalf("CreateFeedingScheduler failed: %v", err)
	}

	stats, err := scheduler.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if stats.Indexed != 0 {
		t.Errorf("Expected nothing to index, got %+v", stats)
	}

	cfg.Feeding.ComputeChecksum = true
	cfg.Feeding.ChecksumType = "CRC64"
	if _, err := CreateFeedingScheduler(cfg, entities, pathinfomemory.New(), lock.NewManager(nil), nil); err == nil {
		t.Error("Expected error for unknown checksum type")
	}
}

func TestCreateAdapters(t *testing.T) {
	cfg := GetDefaultConfig()
	adapters, err := CreateAdapters(cfg)
	if err != nil {
		t.Fatalf("CreateAdapters failed: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Protocol() != "HTTP" {
		t.Fatalf("Expected one HTTP adapter, got %v", adapters)
	}

	cfg.Adapters.HTTP.Enabled = false
	if _, err := CreateAdapters(cfg); err == nil {
		t.Error("Expected error with no adapter enabled")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())
	if result.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if result.API == nil || result.Feeding == nil || result.Lock == nil {
		t.Fatal("Expected no-op collectors when disabled")
	}
	result.API.RecordCall("list", "none", time.Millisecond, nil)
}
