package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "coupon-service"

var ErrCacheMiss = errors.New("cache miss")

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials Redis and pings it once.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// CouponCache stores read models of coupons and user claims as JSON.
type CouponCache struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewCouponCache(rdb redis.Cmdable, ttl time.Duration) *CouponCache {
	return &CouponCache{rdb: rdb, prefix: DefaultPrefix, ttl: ttl}
}

func (c *CouponCache) userKey(userID int64) string {
	return fmt.Sprintf("%s:user-coupons:%d", c.prefix, userID)
}

func (c *CouponCache) detailKey(code string) string {
	return fmt.Sprintf("%s:coupon-detail:%s", c.prefix, code)
}

func (c *CouponCache) GetUserCoupons(ctx context.Context, userID int64) ([]domain.ClaimedCoupon, error) {
	var out []domain.ClaimedCoupon
	if err := c.get(ctx, c.userKey(userID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CouponCache) SetUserCoupons(ctx context.Context, userID int64, coupons []domain.ClaimedCoupon) error {
	return c.set(ctx, c.userKey(userID), coupons)
}

func (c *CouponCache) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var out domain.Coupon
	if err := c.get(ctx, c.detailKey(code), &out); err != nil {
		return domain.Coupon{}, err
	}
	return out, nil
}

func (c *CouponCache) SetCouponByCode(ctx context.Context, coupon domain.Coupon) error {
	return c.set(ctx, c.detailKey(coupon.Code), coupon)
}

func (c *CouponCache) InvalidateUser(ctx context.Context, userID int64) error {
	if err := c.rdb.Del(ctx, c.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate user %d: %w", userID, err)
	}
	return nil
}

func (c *CouponCache) get(ctx context.Context, key string, dst any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// a payload we cannot read is as good as absent
		c.rdb.Del(ctx, key)
		return ErrCacheMiss
	}
	return nil
}

func (c *CouponCache) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
