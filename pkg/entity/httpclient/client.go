// Package httpclient talks to the entity system over JSON-RPC 2.0 on HTTP.
//
// User-scoped calls (session checks, rights, registrations outside a
// coordinated transaction) carry the caller's session token. Service calls
// used by the feeding task run under a service session obtained with the
// configured credentials and renewed when the server reports it expired.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/entity"
	"github.com/pkg/errors"
)

// JSON-RPC error codes returned by the entity system.
const (
	CodeSessionExpired = -32001
	CodeNotFound       = -32004
	CodeAlreadyExists  = -32009
)

// Config configures the HTTP entity client.
type Config struct {
	// URL is the JSON-RPC endpoint.
	URL string `mapstructure:"url" validate:"required,url"`

	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxRetries bounds retries of transport failures and 5xx responses.
	MaxRetries uint64 `mapstructure:"max_retries"`

	// RetryInterval is the first backoff interval; later ones grow exponentially.
	RetryInterval time.Duration `mapstructure:"retry_interval"`

	// ServiceUser and ServicePassword authenticate the service session.
	ServiceUser     string `mapstructure:"service_user"`
	ServicePassword string `mapstructure:"service_password"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
}

// RPCError is an error reported by the entity system.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Client implements entity.Client over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	nextID atomic.Int64

	mu           sync.Mutex
	serviceToken string
}

var _ entity.Client = (*Client)(nil)

// New creates a client. No request is sent until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("entity system url is required")
	}
	cfg.applyDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// call performs one JSON-RPC exchange, retrying transport failures and 5xx
// responses with exponential backoff. RPC errors are never retried.
func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrapf(err, "encode %s request", method)
	}

	var resp rpcResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = httpResp.Body.Close() }()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("entity system returned %s", httpResp.Status)
		}
		if httpResp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("entity system returned %s", httpResp.Status))
		}

		resp = rpcResponse{}
		if err := json.Unmarshal(data, &resp); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("Entity system call %s failed, retrying in %s: %v", method, wait, err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return errors.Wrapf(err, "call %s", method)
	}

	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(resp.Result, result), "decode %s result", method)
}

// serviceCall runs a call under the service session, logging in again once
// if the session expired.
func (c *Client) serviceCall(ctx context.Context, method string, result any, params ...any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.serviceSession(ctx, attempt > 0)
		if err != nil {
			return err
		}
		err = c.call(ctx, method, result, append([]any{token}, params...)...)
		var rpcErr *RPCError
		if attempt == 0 && errors.As(err, &rpcErr) && rpcErr.Code == CodeSessionExpired {
			continue
		}
		return err
	}
}

func (c *Client) serviceSession(ctx context.Context, renew bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.serviceToken != "" && !renew {
		return c.serviceToken, nil
	}

	var token string
	if err := c.call(ctx, "login", &token, c.cfg.ServiceUser, c.cfg.ServicePassword); err != nil {
		return "", errors.Wrap(err, "service login")
	}
	if token == "" {
		return "", errors.New("service login returned no session token")
	}
	c.serviceToken = token
	return token, nil
}

func (c *Client) IsSessionValid(ctx context.Context, token string) (bool, error) {
	var valid bool
	err := c.call(ctx, "isSessionActive", &valid, token)
	return valid, err
}

func (c *Client) Rights(ctx context.Context, token, owner string) (entity.Rights, error) {
	var rights entity.Rights
	err := c.call(ctx, "getRights", &rights, token, owner)
	return rights, err
}

func (c *Client) SearchEntities(ctx context.Context, criteria entity.SearchCriteria) ([]entity.Entity, error) {
	var found []entity.Entity
	err := c.serviceCall(ctx, "searchEntities", &found, criteria)
	return found, err
}

func (c *Client) LookupEntity(ctx context.Context, permID string) (entity.Entity, error) {
	var found *entity.Entity
	err := c.serviceCall(ctx, "getEntity", &found, permID)

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeNotFound {
		return entity.Entity{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.Entity{}, err
	}
	if found == nil {
		return entity.Entity{}, entity.ErrNotFound
	}
	return *found, nil
}

func (c *Client) ListDataSets(ctx context.Context, codes []string) ([]entity.DataSet, error) {
	var dataSets []entity.DataSet
	err := c.serviceCall(ctx, "getDataSets", &dataSets, codes)
	return dataSets, err
}

func (c *Client) CreateDataSet(ctx context.Context, creation entity.DataSetCreation, scope entity.Scope) entity.CreationResult {
	err := c.call(ctx, "createDataSet", nil, scope, creation)

	var rpcErr *RPCError
	switch {
	case err == nil:
		return entity.CreationResult{Outcome: entity.Created}
	case errors.As(err, &rpcErr) && rpcErr.Code == CodeAlreadyExists:
		return entity.CreationResult{Outcome: entity.AlreadyExists}
	default:
		return entity.CreationResult{Outcome: entity.Failed, Err: err}
	}
}

func (c *Client) UpdateShareIDAndSize(ctx context.Context, code, shareID string, size int64) error {
	return c.serviceCall(ctx, "updateDataSetPhysicalData", nil, code, shareID, size)
}
