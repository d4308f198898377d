package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/entity"
)

const (
	DefaultRightsCacheSize = 10000
	DefaultRightsCacheTTL  = time.Minute
)

// Guard authenticates sessions and authorizes owner access. Rights are
// cached per session token and owner.
type Guard struct {
	sessions entity.SessionValidator
	rights   entity.RightsProvider
	cache    *expirable.LRU[rightsKey, entity.Rights]
}

// rightsKey identifies cached rights of a session on an owner.
type rightsKey struct {
	token string
	owner string
}

// NewGuard creates a guard. Zero size or ttl select the defaults.
func NewGuard(sessions entity.SessionValidator, rights entity.RightsProvider, size int, ttl time.Duration) *Guard {
	if size <= 0 {
		size = DefaultRightsCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultRightsCacheTTL
	}
	return &Guard{
		sessions: sessions,
		rights:   rights,
		cache:    expirable.NewLRU[rightsKey, entity.Rights](size, nil, ttl),
	}
}

// Authenticate fails with SessionExpired unless token is a live session.
func (g *Guard) Authenticate(ctx context.Context, token string) error {
	if token == "" {
		return afs.NewError(afs.ErrSessionExpired, "session token is required", "")
	}
	ok, err := g.sessions.IsSessionValid(ctx, token)
	if err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	if !ok {
		return afs.NewError(afs.ErrSessionExpired, "session is no longer valid", "")
	}
	return nil
}

// Rights returns what token may do with owner.
func (g *Guard) Rights(ctx context.Context, token, owner string) (entity.Rights, error) {
	key := rightsKey{token: token, owner: owner}
	if r, ok := g.cache.Get(key); ok {
		return r, nil
	}
	r, err := g.rights.Rights(ctx, token, owner)
	if err != nil {
		return entity.Rights{}, fmt.Errorf("get rights of %s: %w", owner, err)
	}
	g.cache.Add(key, r)
	return r, nil
}

// Authorize fails with PermissionDenied unless token holds every perm on
// owner. It returns the rights it checked.
func (g *Guard) Authorize(ctx context.Context, token, owner string, perms ...entity.Permission) (entity.Rights, error) {
	if err := afs.ValidateOwner(owner); err != nil {
		return entity.Rights{}, err
	}
	r, err := g.Rights(ctx, token, owner)
	if err != nil {
		return entity.Rights{}, err
	}
	for _, p := range perms {
		if !r.Has(p) {
			return entity.Rights{}, afs.NewError(afs.ErrPermissionDenied,
				fmt.Sprintf("session lacks %s rights", p), owner)
		}
	}
	return r, nil
}

// Forget drops the cached rights of token on owner.
func (g *Guard) Forget(token, owner string) {
	g.cache.Remove(rightsKey{token: token, owner: owner})
}
