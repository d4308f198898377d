// Package memory is an in-process entity system used for development and
// tests. It records every call so tests can assert on interactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/afs/pkg/entity"
)

// Config configures the in-memory entity system.
type Config struct {
	// AllowAll accepts every non-empty session token, grants every right
	// and treats unknown owners as experiments.
	AllowAll bool `mapstructure:"allow_all"`

	// Sessions lists the session tokens accepted from the start.
	Sessions []string `mapstructure:"sessions"`
}

// Client implements entity.Client in memory.
type Client struct {
	mu       sync.Mutex
	allowAll bool
	sessions map[string]bool
	entities map[string]entity.Entity
	dataSets map[string]entity.DataSet
	rights   map[grantKey][]entity.Permission
	failures map[string]error
	calls    []string
}

var _ entity.Client = (*Client)(nil)

// New creates an in-memory entity system.
func New(cfg Config) *Client {
	c := &Client{
		allowAll: cfg.AllowAll,
		sessions: make(map[string]bool),
		entities: make(map[string]entity.Entity),
		dataSets: make(map[string]entity.DataSet),
		rights:   make(map[grantKey][]entity.Permission),
		failures: make(map[string]error),
	}
	for _, token := range cfg.Sessions {
		c.sessions[token] = true
	}
	return c
}

// AddSession makes token valid.
func (c *Client) AddSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[token] = true
}

// ExpireSession makes token invalid.
func (c *Client) ExpireSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, token)
}

// AddEntity adds or replaces an owner entity.
func (c *Client) AddEntity(e entity.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.PermID] = e
}

// AddDataSet adds or replaces a registered data set.
func (c *Client) AddDataSet(ds entity.DataSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataSets[ds.Code] = ds
}

// Grant sets the permissions token holds on owner.
func (c *Client) Grant(token, owner string, perms ...entity.Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rights[grantKey{token, owner}] = perms
}

// FailCreation makes CreateDataSet fail for code with err.
func (c *Client) FailCreation(code string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[code] = err
}

// DataSet returns a registered data set.
func (c *Client) DataSet(code string) (entity.DataSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.dataSets[code]
	return ds, ok
}

// Calls returns the recorded calls in order, formatted as "method(args)".
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// ResetCalls clears the recorded calls.
func (c *Client) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *Client) record(format string, args ...any) {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *Client) IsSessionValid(ctx context.Context, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("isSessionValid(%s)", token)

	if c.allowAll && token != "" {
		return true, nil
	}
	return c.sessions[token], nil
}

func (c *Client) Rights(ctx context.Context, token, owner string) (entity.Rights, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("rights(%s,%s)", token, owner)

	var rights entity.Rights
	if c.allowAll {
		rights.Permissions = []entity.Permission{entity.PermissionRead, entity.PermissionWrite}
	} else {
		rights.Permissions = append(rights.Permissions, c.rights[grantKey{token, owner}]...)
	}
	if ds, ok := c.dataSets[owner]; ok {
		rights.DataSet = &ds
	}
	return rights, nil
}

func (c *Client) SearchEntities(ctx context.Context, criteria entity.SearchCriteria) ([]entity.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("searchEntities(%s,%d)", criteria.Kind, criteria.Limit)

	var out []entity.Entity
	for _, e := range c.entities {
		if e.Kind != criteria.Kind || e.ImmutableDataDate == nil {
			continue
		}
		d := *e.ImmutableDataDate
		if d.After(criteria.Since) || (criteria.Inclusive && d.Equal(criteria.Since)) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := *out[i].ImmutableDataDate, *out[j].ImmutableDataDate
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].PermID < out[j].PermID
	})
	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out, nil
}

func (c *Client) LookupEntity(ctx context.Context, permID string) (entity.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("lookupEntity(%s)", permID)

	if e, ok := c.entities[permID]; ok {
		return e, nil
	}
	if c.allowAll {
		return entity.Entity{PermID: permID, Kind: entity.KindExperiment}, nil
	}
	return entity.Entity{}, entity.ErrNotFound
}

func (c *Client) ListDataSets(ctx context.Context, codes []string) ([]entity.DataSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("listDataSets(%s)", strings.Join(codes, ","))

	var out []entity.DataSet
	for _, code := range codes {
		if ds, ok := c.dataSets[code]; ok {
			out = append(out, ds)
		}
	}
	return out, nil
}

func (c *Client) CreateDataSet(ctx context.Context, creation entity.DataSetCreation, scope entity.Scope) entity.CreationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("createDataSet(%s,%s,%s,%s)", creation.Code, creation.ShareID, creation.Location, scope.TransactionID)

	if err, ok := c.failures[creation.Code]; ok {
		return entity.CreationResult{Outcome: entity.Failed, Err: err}
	}
	if _, ok := c.dataSets[creation.Code]; ok {
		return entity.CreationResult{Outcome: entity.AlreadyExists}
	}
	c.dataSets[creation.Code] = entity.DataSet{
		Code:        creation.Code,
		OwnerPermID: creation.Owner.PermID,
		ShareID:     creation.ShareID,
		Location:    creation.Location,
	}
	return entity.CreationResult{Outcome: entity.Created}
}

func (c *Client) UpdateShareIDAndSize(ctx context.Context, code, shareID string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("updateShareIdAndSize(%s,%s,%d)", code, shareID, size)

	ds, ok := c.dataSets[code]
	if !ok {
		return fmt.Errorf("data set %s: %w", code, entity.ErrNotFound)
	}
	ds.ShareID = shareID
	ds.Size = &size
	c.dataSets[code] = ds
	return nil
}

type grantKey struct {
	token string
	owner string
}
