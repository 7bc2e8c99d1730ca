package fastpath

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Swapper is an atomic integer cell with compare-and-swap.
type Swapper interface {
	Load(ctx context.Context, key string) (int64, error)
	CompareAndSwap(ctx context.Context, key string, expected, next int64) (bool, error)
}

// RedisSwapper implements Swapper with WATCH/MULTI/EXEC.
type RedisSwapper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSwapper(rdb *redis.Client, ttl time.Duration) *RedisSwapper {
	return &RedisSwapper{rdb: rdb, ttl: ttl}
}

func (s *RedisSwapper) Load(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotSeeded
	}
	return v, err
}

func (s *RedisSwapper) CompareAndSwap(ctx context.Context, key string, expected, next int64) (bool, error) {
	swapped := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			return ErrNotSeeded
		}
		if err != nil {
			return err
		}
		if current != expected {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cas %s: %w", key, err)
	}
	return swapped, nil
}

// MemorySwapper keeps cells in process memory, for tests and single-node runs.
type MemorySwapper struct {
	mu    sync.Mutex
	cells map[string]int64
}

func NewMemorySwapper() *MemorySwapper {
	return &MemorySwapper{cells: make(map[string]int64)}
}

func (s *MemorySwapper) Store(key string, value int64) {
	s.mu.Lock()
	s.cells[key] = value
	s.mu.Unlock()
}

func (s *MemorySwapper) Load(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cells[key]
	if !ok {
		return 0, ErrNotSeeded
	}
	return v, nil
}

func (s *MemorySwapper) CompareAndSwap(_ context.Context, key string, expected, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cells[key]
	if !ok {
		return false, ErrNotSeeded
	}
	if v != expected {
		return false, nil
	}
	s.cells[key] = next
	return true, nil
}
