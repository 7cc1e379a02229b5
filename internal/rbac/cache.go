package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "rbac:permissions:version"

// PermissionCache is a read-through Redis cache of role permission sets with
// versioned keys. Lifecycle mutations bump the version, instantly orphaning
// every cached entry; the TTL bounds staleness if a bump is ever lost.
// Concurrent loads of the same role are deduplicated.
//
// With a nil client the cache degrades to a transparent pass-through.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
	source PermissionSource
	group  singleflight.Group
}

type cachedRolePermissions struct {
	Found bool     `json:"found"`
	Names []string `json:"names"`
}

// NewPermissionCache wraps the source with Redis caching.
func NewPermissionCache(client *redis.Client, ttl time.Duration, source PermissionSource) *PermissionCache {
	return &PermissionCache{client: client, ttl: ttl, source: source}
}

// RolePermissionNames implements PermissionSource. Negative lookups (missing
// roles) are cached too, so repeated requests for a dangling role ID do not
// hammer the store.
func (c *PermissionCache) RolePermissionNames(ctx context.Context, roleID int64) ([]string, bool, error) {
	if c == nil || c.client == nil {
		return c.source.RolePermissionNames(ctx, roleID)
	}

	key, err := c.buildKey(ctx, roleID)
	if err != nil {
		return nil, false, err
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached cachedRolePermissions
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached.Names, cached.Found, nil
		}
	} else if err != redis.Nil {
		return nil, false, err
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		names, found, err := c.source.RolePermissionNames(ctx, roleID)
		if err != nil {
			return nil, err
		}
		cached := cachedRolePermissions{Found: found, Names: names}
		raw, err := json.Marshal(cached)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return cached, nil
	})
	if err != nil {
		return nil, false, err
	}
	cached := value.(cachedRolePermissions)
	return cached.Names, cached.Found, nil
}

// Bump invalidates the cache by incrementing the global version.
func (c *PermissionCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *PermissionCache) buildKey(ctx context.Context, roleID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:role_perms:%d:v%d", roleID, ver), nil
}

func (c *PermissionCache) version(ctx context.Context) (int64, error) {
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
	return ver, nil
}
