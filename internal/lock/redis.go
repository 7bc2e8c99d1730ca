package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultPollInterval = 20 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// RedisMutex is a single-instance lease lock: SET NX PX with a random token,
// released with a compare-and-delete script.
type RedisMutex struct {
	rdb  redis.Cmdable
	ttl  time.Duration
	poll time.Duration
}

func NewRedisMutex(rdb redis.Cmdable, ttl time.Duration) *RedisMutex {
	return &RedisMutex{rdb: rdb, ttl: ttl, poll: defaultPollInterval}
}

func (m *RedisMutex) Acquire(ctx context.Context, key string, timeout time.Duration) (Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		ok, err := m.rdb.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return Lease{Key: key}, nil
			}
			return Lease{Key: key}, errors.Wrapf(err, "acquire %s", key)
		}
		if ok {
			return Lease{Key: key, HolderID: token, Acquired: true, TTL: m.ttl}, nil
		}
		if !time.Now().Before(deadline) {
			return Lease{Key: key}, nil
		}

		select {
		case <-ctx.Done():
			return Lease{Key: key}, nil
		case <-ticker.C:
		}
	}
}

func (m *RedisMutex) Release(ctx context.Context, lease Lease) (bool, error) {
	if !lease.Acquired {
		return false, nil
	}
	n, err := releaseScript.Run(ctx, m.rdb, []string{lease.Key}, lease.HolderID).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "release %s", lease.Key)
	}
	return n == 1, nil
}
