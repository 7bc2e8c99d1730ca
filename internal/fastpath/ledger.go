package fastpath

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrNotSeeded is returned when a budget counter has never been loaded into
// the cache.
var ErrNotSeeded = errors.New("budget counter not seeded")

type Options struct {
	Prefix      string
	BudgetTTL   time.Duration
	RegisterTTL time.Duration
}

// Ledger is the lock-free cache fast path: a usage set guards at-most-once
// and an integer counter holds the remaining budget in cents.
type Ledger struct {
	rdb       redis.Cmdable
	keys      Keys
	budgetTTL time.Duration
}

func NewLedger(rdb redis.Cmdable, opts Options) *Ledger {
	return &Ledger{
		rdb:       rdb,
		keys:      Keys{Prefix: opts.Prefix},
		budgetTTL: opts.BudgetTTL,
	}
}

func (l *Ledger) Keys() Keys {
	return l.keys
}

// Result codes of reserveScript.
const (
	reserveInsufficient int64 = 0
	reserveOK           int64 = 1
	reserveDuplicate    int64 = 2
	reserveNotSeeded    int64 = -1
)

// KEYS[1] budget counter, KEYS[2] usage set, ARGV[1] triple, ARGV[2] cents.
// A missing counter is reported, never created.
var reserveScript = redis.NewScript(`
if redis.call('sismember', KEYS[2], ARGV[1]) == 1 then
	return 2
end
local remaining = redis.call('get', KEYS[1])
if not remaining then
	return -1
end
if tonumber(remaining) < tonumber(ARGV[2]) then
	return 0
end
redis.call('decrby', KEYS[1], ARGV[2])
redis.call('sadd', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] budget counter, KEYS[2] usage set, ARGV[1] triple, ARGV[2] cents.
// Returns 1 when the counter was credited, 0 when it is not seeded.
var refundScript = redis.NewScript(`
redis.call('srem', KEYS[2], ARGV[1])
if redis.call('exists', KEYS[1]) == 0 then
	return 0
end
redis.call('incrby', KEYS[1], ARGV[2])
return 1
`)

// CheckAndDecrement reserves amount against the cached counter. The
// membership check, the balance check and the decrement run as one script.
func (l *Ledger) CheckAndDecrement(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	cents := ToMinor(amount)
	if !key.Valid() || cents <= 0 {
		return domain.Internal(fmt.Errorf("%w: key=%s amount=%s", domain.ErrValidation, key, amount))
	}

	budgetKey := l.keys.Budget(key.BudgetID)
	code, err := reserveScript.Run(ctx, l.rdb, []string{budgetKey, l.keys.Usage()}, key.String(), cents).Int64()
	if err != nil {
		return domain.Internal(fmt.Errorf("reserve %s: %w", budgetKey, err))
	}

	switch code {
	case reserveOK:
		return domain.Registered()
	case reserveInsufficient:
		return domain.Insufficient()
	case reserveDuplicate:
		return domain.AlreadyReserved()
	case reserveNotSeeded:
		return domain.Internal(fmt.Errorf("%w: budget %d", ErrNotSeeded, key.BudgetID))
	default:
		return domain.Internal(fmt.Errorf("unknown reserve result %d", code))
	}
}

// Release undoes a reservation made by CheckAndDecrement. It reports false
// when the triple was not held.
func (l *Ledger) Release(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error) {
	removed, err := l.rdb.SRem(ctx, l.keys.Usage(), key.String()).Result()
	if err != nil {
		return false, fmt.Errorf("srem usage: %w", err)
	}
	if removed == 0 {
		return false, nil
	}
	if err := l.rdb.IncrBy(ctx, l.keys.Budget(key.BudgetID), ToMinor(amount)).Err(); err != nil {
		return false, fmt.Errorf("incrby budget: %w", err)
	}
	return true, nil
}

// Refund credits amount after the durable ledger reversed the usage. The
// triple is dropped whether or not it is still held. It reports false when
// the counter is not seeded; the next seed reads the refunded ledger.
func (l *Ledger) Refund(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error) {
	budgetKey := l.keys.Budget(key.BudgetID)
	credited, err := refundScript.Run(ctx, l.rdb, []string{budgetKey, l.keys.Usage()}, key.String(), ToMinor(amount)).Int64()
	if err != nil {
		return false, fmt.Errorf("refund %s: %w", budgetKey, err)
	}
	return credited == 1, nil
}

// Seed overwrites the cached counter with the durable remaining amount.
func (l *Ledger) Seed(ctx context.Context, budgetID int64, remaining decimal.Decimal) error {
	pipe := l.rdb.Pipeline()
	pipe.Set(ctx, l.keys.Budget(budgetID), ToMinor(remaining), l.budgetTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("seed budget %d: %w", budgetID, err)
	}
	return nil
}

func (l *Ledger) Remaining(ctx context.Context, budgetID int64) (decimal.Decimal, error) {
	cents, err := l.rdb.Get(ctx, l.keys.Budget(budgetID)).Int64()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, ErrNotSeeded
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get budget %d: %w", budgetID, err)
	}
	return FromMinor(cents), nil
}
