package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/fastpath"
	"github.com/azizikri/coupon-budget-ledger/internal/lock"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Ledger is the durable store of budgets and usage.
type Ledger interface {
	RegisterUsage(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult
	Reverse(ctx context.Context, key domain.UsageKey) (decimal.Decimal, bool, error)
	GetBudget(ctx context.Context, id int64) (domain.Budget, error)
}

// FastPath is the lock-free cache reservation path.
type FastPath interface {
	CheckAndDecrement(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult
	Release(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error)
	Refund(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error)
	Seed(ctx context.Context, budgetID int64, remaining decimal.Decimal) error
}

// CASPath is the flag plus compare-and-swap cache reservation path.
type CASPath interface {
	Register(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult
	Release(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error)
	Refund(ctx context.Context, key domain.UsageKey, amount decimal.Decimal) (bool, error)
}

// Publisher confirms cache reservations into the durable ledger.
type Publisher interface {
	PublishUsageRegistered(ctx context.Context, event domain.UsageRegistered) error
}

type Options struct {
	Strategy    domain.Strategy
	LockPrefix  string
	LockTimeout time.Duration
}

type Coordinator struct {
	ledger    Ledger
	fast      FastPath
	cas       CASPath
	mutex     lock.Mutex
	publisher Publisher
	opts      Options
	now       func() time.Time
}

// NewCoordinator wires a coordinator. Only the dependencies of the configured
// strategy are required; the rest may be nil.
func NewCoordinator(ledger Ledger, fast FastPath, cas CASPath, mutex lock.Mutex, publisher Publisher, opts Options) (*Coordinator, error) {
	if ledger == nil {
		return nil, errors.New("reservation: ledger is required")
	}
	switch opts.Strategy {
	case domain.StrategyDurable:
	case domain.StrategyCacheSync:
		if cas == nil || mutex == nil || fast == nil {
			return nil, errors.New("reservation: cache_sync needs a fast path, a CAS path and a mutex")
		}
	case domain.StrategyCacheAsync:
		if fast == nil || publisher == nil {
			return nil, errors.New("reservation: cache_async needs a fast path and a publisher")
		}
	default:
		return nil, fmt.Errorf("reservation: unknown strategy %q", opts.Strategy)
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 3 * time.Second
	}

	return &Coordinator{
		ledger:    ledger,
		fast:      fast,
		cas:       cas,
		mutex:     mutex,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}, nil
}

func (c *Coordinator) Strategy() domain.Strategy {
	return c.opts.Strategy
}

// Register reserves amount for key under the configured strategy.
func (c *Coordinator) Register(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	var res domain.RegistrationResult
	switch c.opts.Strategy {
	case domain.StrategyCacheSync:
		res = c.registerLocked(ctx, txID, key, amount)
	case domain.StrategyCacheAsync:
		res = c.registerAsync(ctx, txID, key, amount)
	default:
		res = c.ledger.RegisterUsage(ctx, txID, key, amount)
	}

	outcomes.WithLabelValues(string(c.opts.Strategy), string(res.Outcome)).Inc()
	if res.Outcome == domain.OutcomeInternal {
		log.Ctx(ctx).Error().Err(res.Err).
			Str("strategy", string(c.opts.Strategy)).
			Str("tx_id", txID).
			Str("usage_key", key.String()).
			Msg("budget reservation failed")
	}
	return res
}

func (c *Coordinator) registerLocked(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	lease, err := c.mutex.Acquire(ctx, lock.BudgetKey(c.opts.LockPrefix, key.BudgetID), c.opts.LockTimeout)
	if err != nil {
		return domain.Internal(fmt.Errorf("acquire budget lock: %w", err))
	}
	if !lease.Acquired {
		return domain.Internal(domain.ErrLockContention)
	}
	defer func() {
		released, err := c.mutex.Release(context.WithoutCancel(ctx), lease)
		if err != nil || !released {
			log.Ctx(ctx).Warn().Err(err).
				Str("lock_key", lease.Key).
				Msg("budget lock was not released cleanly")
		}
	}()

	res := c.cas.Register(ctx, key, amount)
	if res.Outcome == domain.OutcomeInternal && errors.Is(res.Err, fastpath.ErrNotSeeded) {
		if _, err := c.SyncCache(ctx, key.BudgetID); err != nil {
			return domain.Internal(fmt.Errorf("seed budget cache: %w", err))
		}
		res = c.cas.Register(ctx, key, amount)
	}
	if !res.Success() {
		return res
	}

	durable := c.ledger.RegisterUsage(ctx, txID, key, amount)
	if !durable.Success() {
		if _, err := c.cas.Release(context.WithoutCancel(ctx), key, amount); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("usage_key", key.String()).Msg("failed to release cache reservation")
		}
	}
	return durable
}

func (c *Coordinator) registerAsync(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	res := c.fast.CheckAndDecrement(ctx, key, amount)
	if res.Outcome == domain.OutcomeInternal && errors.Is(res.Err, fastpath.ErrNotSeeded) {
		if _, err := c.SyncCache(ctx, key.BudgetID); err != nil {
			return domain.Internal(fmt.Errorf("seed budget cache: %w", err))
		}
		res = c.fast.CheckAndDecrement(ctx, key, amount)
	}
	if !res.Success() {
		return res
	}

	event := domain.UsageRegistered{
		TxID:      txID,
		BudgetID:  key.BudgetID,
		CouponID:  key.CouponID,
		UserID:    key.UserID,
		Amount:    amount,
		UsageTime: c.now(),
	}
	if err := c.publisher.PublishUsageRegistered(ctx, event); err != nil {
		if _, relErr := c.fast.Release(context.WithoutCancel(ctx), key, amount); relErr != nil {
			log.Ctx(ctx).Error().Err(relErr).Str("usage_key", key.String()).Msg("failed to release cache reservation")
		}
		return domain.Internal(fmt.Errorf("publish usage registered: %w", err))
	}
	return res
}

// Rollback reverses the durable usage for key and, for cache strategies,
// credits the refunded amount to the cache counter. The ledger reversal is
// the at-most-once guard; the cache markers may already have expired. It
// reports false when nothing was registered.
func (c *Coordinator) Rollback(ctx context.Context, key domain.UsageKey) (bool, error) {
	amount, reversed, err := c.ledger.Reverse(ctx, key)
	if err != nil || !reversed {
		return reversed, err
	}

	var credited bool
	switch c.opts.Strategy {
	case domain.StrategyCacheSync:
		credited, err = c.cas.Refund(ctx, key, amount)
	case domain.StrategyCacheAsync:
		credited, err = c.fast.Refund(ctx, key, amount)
	default:
		return true, nil
	}
	if err != nil || !credited {
		log.Ctx(ctx).Warn().Err(err).
			Str("usage_key", key.String()).
			Str("amount", amount.String()).
			Msg("cache counter not restored after rollback")
	}
	return true, nil
}

// SyncCache overwrites the cached counter with the durable remaining amount.
func (c *Coordinator) SyncCache(ctx context.Context, budgetID int64) (domain.Budget, error) {
	budget, err := c.ledger.GetBudget(ctx, budgetID)
	if err != nil {
		return domain.Budget{}, err
	}
	if c.fast == nil {
		return budget, nil
	}
	if err := c.fast.Seed(ctx, budgetID, budget.Remaining); err != nil {
		return domain.Budget{}, err
	}
	return budget, nil
}
