package redisx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound means the nonce was never issued, already used, or expired.
var ErrStateNotFound = errors.New("oauth state not found")

// StateStore keeps short-lived values that can be taken exactly once. Peek
// reads without consuming so callers can check ownership before Take.
type StateStore interface {
	Put(ctx context.Context, nonce string, value []byte, ttl time.Duration) error
	Peek(ctx context.Context, nonce string) ([]byte, error)
	Take(ctx context.Context, nonce string) ([]byte, error)
}

type RedisStateStore struct{ rdb redis.Cmdable }

func NewRedisStateStore(rdb redis.Cmdable) *RedisStateStore { return &RedisStateStore{rdb: rdb} }

func (s *RedisStateStore) Put(ctx context.Context, nonce string, value []byte, ttl time.Duration) error {
	ok, err := s.rdb.SetNX(ctx, fmt.Sprintf(KeyOAuthState, nonce), value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("oauth state %q already issued", nonce)
	}
	return nil
}

func (s *RedisStateStore) Peek(ctx context.Context, nonce string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, fmt.Sprintf(KeyOAuthState, nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	return b, err
}

func (s *RedisStateStore) Take(ctx context.Context, nonce string) ([]byte, error) {
	b, err := s.rdb.GetDel(ctx, fmt.Sprintf(KeyOAuthState, nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	return b, err
}

type MemoryStateStore struct {
	mu   sync.Mutex
	now  func() time.Time
	vals map[string]memState
}

type memState struct {
	value   []byte
	expires time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{now: time.Now, vals: map[string]memState{}}
}

func (s *MemoryStateStore) Put(_ context.Context, nonce string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.vals[nonce]; ok && now.Before(cur.expires) {
		return fmt.Errorf("oauth state %q already issued", nonce)
	}
	// drop expired entries while we hold the lock
	for k, v := range s.vals {
		if !now.Before(v.expires) {
			delete(s.vals, k)
		}
	}
	s.vals[nonce] = memState{value: append([]byte(nil), value...), expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Peek(_ context.Context, nonce string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.vals[nonce]
	if !ok || !s.now().Before(cur.expires) {
		return nil, ErrStateNotFound
	}
	return append([]byte(nil), cur.value...), nil
}

func (s *MemoryStateStore) Take(_ context.Context, nonce string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.vals[nonce]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.vals, nonce)
	if !s.now().Before(cur.expires) {
		return nil, ErrStateNotFound
	}
	return cur.value, nil
}
