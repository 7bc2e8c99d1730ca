package eligibility

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/cache"
	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/ruleoracle"
	"github.com/azizikri/coupon-budget-ledger/internal/workerpool"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type CouponCache interface {
	GetUserCoupons(ctx context.Context, userID int64) ([]domain.ClaimedCoupon, error)
	SetUserCoupons(ctx context.Context, userID int64, coupons []domain.ClaimedCoupon) error
}

type CouponReader interface {
	ListClaimedCoupons(ctx context.Context, userID int64) ([]domain.ClaimedCoupon, error)
}

type Selection struct {
	Coupon   domain.Coupon
	Claim    domain.CouponUser
	Discount decimal.Decimal
}

type Selector struct {
	cache   CouponCache
	store   CouponReader
	oracle  ruleoracle.Oracle
	pool    *workerpool.Pool
	timeout time.Duration
}

func NewSelector(c CouponCache, store CouponReader, oracle ruleoracle.Oracle, pool *workerpool.Pool, timeout time.Duration) *Selector {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Selector{cache: c, store: store, oracle: oracle, pool: pool, timeout: timeout}
}

type candidate struct {
	claimed  domain.ClaimedCoupon
	discount decimal.Decimal
}

// SelectBest returns the usable claimed coupon with the greatest discount
// whose rule collection passes. Ties keep the earliest candidate.
func (s *Selector) SelectBest(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time) (Selection, error) {
	claimed, err := s.Candidates(ctx, userID)
	if err != nil {
		return Selection{}, err
	}

	usable := make([]domain.ClaimedCoupon, 0, len(claimed))
	for _, c := range claimed {
		if c.Usable(asOf) {
			usable = append(usable, c)
		}
	}

	candidates := s.discounts(ctx, usable, orderAmount)
	if len(candidates) == 0 {
		return Selection{}, domain.ErrNoApplicableCoupon
	}

	passed := s.evaluate(ctx, userID, orderAmount, asOf, candidates)

	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if !passed[c.claimed.Coupon.CollectionKeyID] {
			continue
		}
		if best == nil || c.discount.GreaterThan(best.discount) {
			best = c
		}
	}
	if best == nil {
		return Selection{}, domain.ErrNoApplicableCoupon
	}

	return Selection{
		Coupon:   best.claimed.Coupon,
		Claim:    best.claimed.Claim,
		Discount: best.discount,
	}, nil
}

// Candidates loads the user's claimed coupons, cache first.
func (s *Selector) Candidates(ctx context.Context, userID int64) ([]domain.ClaimedCoupon, error) {
	cached, err := s.cache.GetUserCoupons(ctx, userID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Int64("user_id", userID).Msg("coupon cache read failed")
	}

	claimed, err := s.store.ListClaimedCoupons(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list claimed coupons: %w", err)
	}
	if err := s.cache.SetUserCoupons(ctx, userID, claimed); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("user_id", userID).Msg("coupon cache write failed")
	}
	return claimed, nil
}

// discounts computes each discount on the shared pool and keeps the
// positive ones in input order.
func (s *Selector) discounts(ctx context.Context, usable []domain.ClaimedCoupon, orderAmount decimal.Decimal) []candidate {
	amounts := make([]decimal.Decimal, len(usable))

	var wg sync.WaitGroup
	for i := range usable {
		wg.Add(1)
		s.pool.Go(ctx, func(context.Context) {
			defer wg.Done()
			amounts[i] = usable[i].Coupon.DiscountFor(orderAmount)
		})
	}
	wg.Wait()

	out := make([]candidate, 0, len(usable))
	for i, amount := range amounts {
		if amount.IsPositive() {
			out = append(out, candidate{claimed: usable[i], discount: amount})
		}
	}
	return out
}

// evaluate asks the oracle once per distinct collection on the shared pool.
// Collections that error, time out or come back without a verdict count as
// failed.
func (s *Selector) evaluate(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time, candidates []candidate) map[int64]bool {
	passed := map[int64]bool{ruleoracle.NoCollection: true}
	var mu sync.Mutex

	requestID := uuid.NewString()
	var wg sync.WaitGroup
	seen := map[int64]bool{}
	for _, c := range candidates {
		id := c.claimed.Coupon.CollectionKeyID
		if id == ruleoracle.NoCollection || seen[id] {
			continue
		}
		seen[id] = true

		wg.Add(1)
		s.pool.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			ok := s.check(ctx, requestID, userID, orderAmount, asOf, id)
			mu.Lock()
			passed[id] = ok
			mu.Unlock()
		})
	}
	wg.Wait()
	return passed
}

func (s *Selector) check(ctx context.Context, requestID string, userID int64, orderAmount decimal.Decimal, asOf time.Time, collectionID int64) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	verdicts, err := s.oracle.Evaluate(ctx, ruleoracle.EvaluateRequest{
		RequestID:     requestID,
		UserID:        userID,
		OrderAmount:   orderAmount,
		AsOf:          asOf,
		CollectionIDs: []int64{collectionID},
	})
	if err != nil {
		oracleFailures.WithLabelValues("error").Inc()
		log.Ctx(ctx).Warn().Err(err).Int64("collection_id", collectionID).Msg("rule oracle call failed")
		return false
	}

	for _, v := range verdicts {
		if v.CollectionID == collectionID {
			return v.Passed
		}
	}
	oracleFailures.WithLabelValues("missing_verdict").Inc()
	return false
}

// CheckRules evaluates a single collection for the manual flow.
func (s *Selector) CheckRules(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time, collectionID int64) error {
	if collectionID == ruleoracle.NoCollection {
		return nil
	}
	if !s.check(ctx, uuid.NewString(), userID, orderAmount, asOf, collectionID) {
		return fmt.Errorf("%w: collection %d", domain.ErrRuleViolation, collectionID)
	}
	return nil
}
