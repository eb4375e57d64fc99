package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "rbac:version"

// Cache wraps Redis based caching of derived permission sets with
// versioning controls. A version bump invalidates every cached identity at
// once, which keeps grants and revocations visible without enumerating keys.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// FetchIdentity loads a cached identity or populates it using the loader.
// Concurrent loads for the same user are collapsed to one repository hit.
func (c *Cache) FetchIdentity(ctx context.Context, userID int64, loader func(context.Context) (Identity, error)) (Identity, error) {
	if loader == nil {
		return Identity{}, errors.New("rbac: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return Identity{}, err
	}
	key := fmt.Sprintf("rbac:perms:%d:%d", ver, userID)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var snap identitySnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return Identity{}, err
		}
		return snap.identity(), nil
	}
	if err != redis.Nil {
		return Identity{}, err
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		ident, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(ident.snapshot())
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return ident, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return value.(Identity), nil
}

// Bump invalidates all cached identities by incrementing the global version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
