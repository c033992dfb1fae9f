// Package rejectioncache implements the LKG RejectionCache interface
// (pkg/lkg) over Redis, so that a fleet of flowctl/LKG-wrapper instances
// behind the same upstream share one rejected-version set instead of each
// re-validating a bad candidate independently.
package rejectioncache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL bounds how long a rejected version is remembered; an upstream
// that eventually republishes the same (bad) version as good should not be
// permanently blocked by a stale rejection.
const defaultTTL = 24 * time.Hour

// Cache is a Redis-backed set of rejected config versions, scoped by a key
// prefix so multiple flows/environments can share one Redis instance.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New wraps an existing *redis.Client. prefix namespaces the key set (e.g.
// the deployment/environment name); ttl of 0 uses defaultTTL.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(configVersion uint64) string {
	return fmt.Sprintf("%s:lkg:rejected:%s", c.prefix, strconv.FormatUint(configVersion, 10))
}

func (c *Cache) setKey() string {
	return fmt.Sprintf("%s:lkg:rejected:set", c.prefix)
}

// IsRejected reports whether configVersion was previously marked rejected
// and hasn't expired.
func (c *Cache) IsRejected(ctx context.Context, configVersion uint64) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(configVersion)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkRejected records configVersion as rejected, for ttl.
func (c *Cache) MarkRejected(ctx context.Context, configVersion uint64) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(configVersion), "1", c.ttl)
	pipe.SAdd(ctx, c.setKey(), configVersion)
	pipe.Expire(ctx, c.setKey(), c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear drops every rejection this prefix has recorded; called on
// acceptance of a new LKG candidate.
func (c *Cache) Clear(ctx context.Context) error {
	members, err := c.client.SMembers(ctx, c.setKey()).Result()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, m := range members {
		v, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		pipe.Del(ctx, c.key(v))
	}
	pipe.Del(ctx, c.setKey())
	_, err = pipe.Exec(ctx)
	return err
}
