package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridianfunds/walletcore/internal/domain"
)

const accountNamespace = "account"

// AccountCache is a read-through redis cache of account snapshots with a
// TTL and per-key write-through invalidation. Writers invalidate only the
// accounts they touched, never the whole namespace.
type AccountCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func New(addr, password string, ttl time.Duration) *AccountCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &AccountCache{client: rdb, ttl: ttl}
}

// Disabled returns a cache that misses every read and drops every write,
// for deployments without redis and for tests.
func Disabled() *AccountCache {
	return &AccountCache{}
}

func key(id int64) string {
	return accountNamespace + ":" + strconv.FormatInt(id, 10)
}

// Get returns the cached snapshot, or nil on a miss. Redis failures are
// treated as misses so the cache can never block a read.
func (c *AccountCache) Get(ctx context.Context, id int64) *domain.Account {
	if c.client == nil {
		return nil
	}
	raw, err := c.client.Get(ctx, key(id)).Result()
	if err != nil {
		return nil
	}
	var a domain.Account
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil
	}
	return &a
}

// Put stores a snapshot under the TTL.
func (c *AccountCache) Put(ctx context.Context, a *domain.Account) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key(a.ID), raw, c.ttl).Err()
}

// Invalidate drops the snapshots for exactly the given accounts.
func (c *AccountCache) Invalidate(ctx context.Context, ids ...int64) {
	if c.client == nil {
		return
	}
	for _, id := range ids {
		_ = c.client.Del(ctx, key(id)).Err()
	}
}

// Ping verifies connectivity at startup.
func (c *AccountCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return errors.New("cache client not configured")
	}
	return c.client.Ping(ctx).Err()
}
