package fastpath

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrCASExhausted means every compare-and-swap attempt lost a race.
var ErrCASExhausted = errors.New("budget counter changed concurrently")

const registeredFlag = "REGISTERED"

type CASOptions struct {
	Prefix      string
	MaxAttempts int
	Backoff     time.Duration
	RegisterTTL time.Duration
}

// CASLedger reserves budget with a tracking flag and an optimistic loop on
// the counter.
type CASLedger struct {
	rdb     redis.Cmdable
	swapper Swapper
	keys    Keys
	opts    CASOptions
}

func NewCASLedger(rdb redis.Cmdable, swapper Swapper, opts CASOptions) *CASLedger {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 10 * time.Millisecond
	}
	return &CASLedger{rdb: rdb, swapper: swapper, keys: Keys{Prefix: opts.Prefix}, opts: opts}
}

func (c *CASLedger) Register(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	cents := ToMinor(amount)
	if !key.Valid() || cents <= 0 {
		return domain.Internal(fmt.Errorf("%w: key=%s amount=%s", domain.ErrValidation, key, amount))
	}

	flagKey := c.keys.Registered(key)
	set, err := c.rdb.SetNX(ctx, flagKey, registeredFlag, c.opts.RegisterTTL).Result()
	if err != nil {
		return domain.Internal(fmt.Errorf("setnx flag: %w", err))
	}
	if !set {
		return domain.AlreadyReserved()
	}

	result := c.deduct(ctx, c.keys.Budget(key.BudgetID), cents)
	if !result.Success() {
		if err := c.rdb.Del(ctx, flagKey).Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("flag", flagKey).Msg("failed to clear tracking flag")
		}
	}
	return result
}

func (c *CASLedger) deduct(ctx context.Context, budgetKey string, cents int64) domain.RegistrationResult {
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.opts.Backoff); err != nil {
				return domain.Internal(err)
			}
		}

		current, err := c.swapper.Load(ctx, budgetKey)
		if err != nil {
			return domain.Internal(fmt.Errorf("load %s: %w", budgetKey, err))
		}
		if current < cents {
			return domain.Insufficient()
		}

		swapped, err := c.swapper.CompareAndSwap(ctx, budgetKey, current, current-cents)
		if err != nil {
			return domain.Internal(err)
		}
		if swapped {
			return domain.Registered()
		}
		log.Ctx(ctx).Debug().Str("budget_key", budgetKey).Int("attempt", attempt+1).Msg("cas lost race")
	}
	return domain.Internal(ErrCASExhausted)
}

// Release clears the tracking flag and credits amount back to the counter.
// It reports false when no flag was held.
func (c *CASLedger) Release(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error) {
	removed, err := c.rdb.Del(ctx, c.keys.Registered(key)).Result()
	if err != nil {
		return false, fmt.Errorf("del flag: %w", err)
	}
	if removed == 0 {
		return false, nil
	}
	return c.credit(ctx, key.BudgetID, ToMinor(amount))
}

// Refund credits amount after the durable ledger reversed the usage. The
// flag is cleared when present but not required, since it may have expired.
// It reports false when the counter is not seeded.
func (c *CASLedger) Refund(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error) {
	if err := c.rdb.Del(ctx, c.keys.Registered(key)).Err(); err != nil {
		return false, fmt.Errorf("del flag: %w", err)
	}
	credited, err := c.credit(ctx, key.BudgetID, ToMinor(amount))
	if errors.Is(err, ErrNotSeeded) {
		return false, nil
	}
	return credited, err
}

func (c *CASLedger) credit(ctx context.Context, budgetID int64, cents int64) (bool, error) {
	budgetKey := c.keys.Budget(budgetID)
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.opts.Backoff); err != nil {
				return false, err
			}
		}
		current, err := c.swapper.Load(ctx, budgetKey)
		if err != nil {
			return false, err
		}
		swapped, err := c.swapper.CompareAndSwap(ctx, budgetKey, current, current+cents)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
	}
	return false, ErrCASExhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
