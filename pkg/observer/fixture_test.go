package observer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/entity/memory"
	"github.com/marmos91/afs/pkg/lock"
	"github.com/marmos91/afs/pkg/storage"
	"github.com/marmos91/afs/pkg/txn"
	"github.com/marmos91/afs/pkg/worker"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	storageRoot = "/data/storage"
	walRoot     = "/data/wal"
)

type fixture struct {
	fs       afero.Fs
	txm      *txn.Manager
	entities *memory.Client
	guard    *worker.Guard
	srv      *api.Server
}

func newFixture(t *testing.T, entities *memory.Client) *fixture {
	t.Helper()
	if entities == nil {
		entities = memory.New(memory.Config{AllowAll: true})
	}
	fs := afero.NewMemMapFs()
	txm, err := txn.NewManager(fs, lock.NewManager(nil), txn.Config{
		StorageRoot: storageRoot,
		WALRoot:     walRoot,
		Space:       storage.StaticProbe{Space: afs.FreeSpace{Total: 100, Free: 40}},
	})
	require.NoError(t, err)
	return &fixture{
		fs:       fs,
		txm:      txm,
		entities: entities,
		guard:    worker.NewGuard(entities, entities, 0, 0),
	}
}

// serve starts a server running observers.
func (f *fixture) serve(t *testing.T, observers ...api.Observer) {
	t.Helper()
	f.srv = api.NewServer(f.txm, storage.FlatLayout{}, f.guard, api.NewChain(observers...), nil, api.Config{
		InteractiveSessionKey: "isk",
		TransactionManagerKey: "tmk",
	})
	t.Cleanup(func() { _ = f.srv.Close(context.Background()) })
}

func (f *fixture) do(req *api.Request) (any, error) {
	return f.srv.Process(context.Background(), req)
}

func (f *fixture) must(t *testing.T, req *api.Request) any {
	t.Helper()
	result, err := f.do(req)
	require.NoError(t, err, "%s", req.Method)
	return result
}

func (f *fixture) exists(t *testing.T, rel string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, filepath.Join(storageRoot, rel))
	require.NoError(t, err)
	return ok
}

// creations returns the recorded data set creations of owner.
func (f *fixture) creations(owner string) []string {
	var out []string
	for _, c := range f.entities.Calls() {
		if strings.HasPrefix(c, "createDataSet("+owner+",") {
			out = append(out, c)
		}
	}
	return out
}

func nonTx(method api.Method, p api.Params) *api.Request {
	return &api.Request{Method: method, Params: p, SessionToken: "tok"}
}

func onePhase(method api.Method, p api.Params) *api.Request {
	return &api.Request{Method: method, Params: p, SessionToken: "tok", InteractiveSessionKey: "isk"}
}

func twoPhase(method api.Method, id uuid.UUID, p api.Params) *api.Request {
	p.TransactionID = id
	return &api.Request{Method: method, Params: p, SessionToken: "tok", TransactionManagerKey: "tmk"}
}

func write(owner, source string) api.Params {
	return api.Params{Owner: owner, Source: source, Data: []byte("data")}
}
