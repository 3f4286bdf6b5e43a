package redisx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock held by another run")

// Unlock releases a lock obtained from a Locker.
type Unlock func(ctx context.Context) error

type Locker interface {
	// TryLock obtains key without waiting; ErrLocked if already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

type RedisLocker struct{ c *redislock.Client }

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{c: redislock.New(rdb)}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	lock, err := l.c.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// expired before release; nothing to undo
			return nil
		}
		return err
	}, nil
}

// MemoryLocker is the single-process fallback when Redis is not configured.
type MemoryLocker struct {
	mu    sync.Mutex
	now   func() time.Time
	held  map[string]memLock
	token uint64
}

type memLock struct {
	token   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{now: time.Now, held: map[string]memLock{}}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrLocked
	}
	l.token++
	tok := l.token
	l.held[key] = memLock{token: tok, expires: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == tok {
			delete(l.held, key)
		}
		return nil
	}, nil
}
