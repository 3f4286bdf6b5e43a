package redisx

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed event ids for a while.
type Deduper interface {
	// MarkOnce reports true the first time key is seen within ttl.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RedisDeduper struct{ rdb redis.Cmdable }

func NewRedisDeduper(rdb redis.Cmdable) *RedisDeduper { return &RedisDeduper{rdb: rdb} }

func (d *RedisDeduper) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return MarkOnce(ctx, d.rdb, key, ttl)
}

// dedupSweepEvery bounds how often MemoryDeduper walks its map for expired keys.
const dedupSweepEvery = time.Minute

type MemoryDeduper struct {
	mu        sync.Mutex
	now       func() time.Time
	seen      map[string]time.Time
	nextSweep time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{now: time.Now, seen: map[string]time.Time{}}
}

func (d *MemoryDeduper) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if !now.Before(d.nextSweep) {
		// drop expired keys while we hold the lock
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
		d.nextSweep = now.Add(dedupSweepEvery)
	}
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}
