package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const resolveKeyPrefix = "perm:resolve:"

// ResolveCache keeps resolved permission sets in Redis so repeated
// authorization checks for the same user skip the database. Entries are
// invalidated on every override or role mutation touching the user; the TTL
// only bounds staleness across processes that miss an invalidation.
type ResolveCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResolveCache instantiates the cache helper.
func NewResolveCache(client *redis.Client, ttl time.Duration) *ResolveCache {
	return &ResolveCache{client: client, ttl: ttl}
}

func resolveKey(userID int64) string {
	return fmt.Sprintf("%s%d", resolveKeyPrefix, userID)
}

// Get loads a cached permission set. The second return value reports a hit.
func (c *ResolveCache) Get(ctx context.Context, userID int64) ([]EffectivePermission, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, resolveKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var perms []EffectivePermission
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false
	}
	return perms, true
}

// Set stores a resolved permission set. Failures are ignored; the cache is
// best effort.
func (c *ResolveCache) Set(ctx context.Context, userID int64, perms []EffectivePermission) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, resolveKey(userID), raw, c.ttl).Err()
}

// Invalidate drops the cached set for one user.
func (c *ResolveCache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, resolveKey(userID)).Err()
}

// Flush drops every cached permission set. Used after bulk mutations such as
// the expired-override sweep, where the affected user set is unknown.
func (c *ResolveCache) Flush(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, resolveKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
