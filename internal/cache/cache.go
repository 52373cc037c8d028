// Package cache holds the key/value backends client preferences live in.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persistent marks a value that never expires. Preferences are always
// written this way; only tests use a ttl.
const Persistent time.Duration = 0

// DefaultPrefix namespaces every key the service writes to a shared Redis.
const DefaultPrefix = "crisishelp:"

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// For returns a Redis-backed cache under DefaultPrefix when rdb is set and
// an in-process one otherwise. The in-process cache forgets everything on
// restart.
func For(rdb *redis.Client) Cache {
	if rdb == nil {
		return NewMemoryCache()
	}
	return NewRedisCache(rdb, DefaultPrefix)
}
