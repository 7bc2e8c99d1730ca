package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/cache"
	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Step string

const (
	StepValidate        Step = "VALIDATE"
	StepResolveCoupon   Step = "RESOLVE_COUPON"
	StepCheckUsable     Step = "CHECK_USABLE"
	StepComputeDiscount Step = "COMPUTE_DISCOUNT"
	StepCheckRules      Step = "CHECK_RULES"
	StepReserveBudget   Step = "RESERVE_BUDGET"
	StepMarkUsed        Step = "MARK_USED"
	StepInvalidateCache Step = "INVALIDATE_CACHE"
	StepDone            Step = "DONE"
)

type ApplyResult struct {
	Success        bool             `json:"success"`
	CouponID       int64            `json:"coupon_id,omitempty"`
	CouponCode     string           `json:"coupon_code,omitempty"`
	OrderAmount    decimal.Decimal  `json:"order_amount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	FinalAmount    decimal.Decimal  `json:"final_amount"`
	ErrorCode      domain.ErrorCode `json:"error_code,omitempty"`
	Step           Step             `json:"step"`
}

type Options struct {
	BudgetTimeout time.Duration
}

type CouponService struct {
	store     CouponStore
	cache     CouponCache
	selector  Selector
	budget    BudgetGateway
	publisher EventPublisher
	opts      Options
	now       func() time.Time
	newTxID   func() string
}

func NewCouponService(store CouponStore, c CouponCache, selector Selector, budget BudgetGateway, publisher EventPublisher, opts Options) *CouponService {
	if opts.BudgetTimeout <= 0 {
		opts.BudgetTimeout = 3 * time.Second
	}
	return &CouponService{
		store:     store,
		cache:     c,
		selector:  selector,
		budget:    budget,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
		newTxID:   uuid.NewString,
	}
}

// flow tracks the step a request has reached so a failure can report it.
type flow struct {
	result ApplyResult
}

func newFlow(orderAmount decimal.Decimal) *flow {
	return &flow{result: ApplyResult{
		OrderAmount:    orderAmount,
		DiscountAmount: decimal.Zero,
		FinalAmount:    orderAmount,
		Step:           StepValidate,
	}}
}

func (f *flow) enter(step Step) {
	f.result.Step = step
}

func (f *flow) fail(err error) (ApplyResult, error) {
	f.result.Success = false
	f.result.ErrorCode = domain.CodeOf(err)
	return f.result, err
}

func (s *CouponService) ApplyManual(ctx context.Context, userID int64, code string, orderAmount decimal.Decimal, asOf time.Time) (ApplyResult, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "CouponService.ApplyManual")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.String("coupon.code", code))

	f := newFlow(orderAmount)
	code = strings.TrimSpace(code)
	if userID <= 0 || code == "" || !orderAmount.IsPositive() {
		return f.fail(fmt.Errorf("%w: user_id, coupon_code and a positive order_amount are required", domain.ErrValidation))
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	f.enter(StepResolveCoupon)
	coupon, err := s.resolveCoupon(ctx, code)
	if err != nil {
		return f.fail(err)
	}
	f.result.CouponID = coupon.ID
	f.result.CouponCode = coupon.Code

	claim, err := s.store.GetCouponUser(ctx, userID, coupon.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return f.fail(fmt.Errorf("%w: coupon %s is not claimed by user %d", domain.ErrCouponNotUsable, code, userID))
	}
	if err != nil {
		return f.fail(err)
	}

	f.enter(StepCheckUsable)
	if !(domain.ClaimedCoupon{Claim: claim, Coupon: coupon}).Usable(asOf) {
		return f.fail(fmt.Errorf("%w: coupon %s", domain.ErrCouponNotUsable, code))
	}

	f.enter(StepComputeDiscount)
	discount := coupon.DiscountFor(orderAmount)
	if !discount.IsPositive() {
		return f.fail(fmt.Errorf("%w: coupon %s yields no discount", domain.ErrCouponNotUsable, code))
	}

	f.enter(StepCheckRules)
	if err := s.selector.CheckRules(ctx, userID, orderAmount, asOf, coupon.CollectionKeyID); err != nil {
		return f.fail(err)
	}

	res, err := s.commit(ctx, f, userID, coupon, discount, asOf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Step))
	}
	return res, err
}

func (s *CouponService) ApplyAuto(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time) (ApplyResult, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "CouponService.ApplyAuto")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	f := newFlow(orderAmount)
	if userID <= 0 || !orderAmount.IsPositive() {
		return f.fail(fmt.Errorf("%w: user_id and a positive order_amount are required", domain.ErrValidation))
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	f.enter(StepResolveCoupon)
	selection, err := s.selector.SelectBest(ctx, userID, orderAmount, asOf)
	if errors.Is(err, domain.ErrNoApplicableCoupon) {
		f.result.ErrorCode = domain.CodeNoApplicableCoupon
		f.result.Step = StepDone
		return f.result, nil
	}
	if err != nil {
		return f.fail(err)
	}
	f.result.CouponID = selection.Coupon.ID
	f.result.CouponCode = selection.Coupon.Code

	res, err := s.commit(ctx, f, userID, selection.Coupon, selection.Discount, asOf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Step))
	}
	return res, err
}

// commit runs RESERVE_BUDGET through DONE. Once the reservation succeeds a
// later failure leaves the budget deducted; the caller compensates through
// Rollback.
func (s *CouponService) commit(ctx context.Context, f *flow, userID int64, coupon domain.Coupon, discount decimal.Decimal, asOf time.Time) (ApplyResult, error) {
	f.enter(StepReserveBudget)
	txID := s.newTxID()
	key := domain.UsageKey{BudgetID: coupon.BudgetID, CouponID: coupon.ID, UserID: userID}

	budgetCtx, cancel := context.WithTimeout(ctx, s.opts.BudgetTimeout)
	reservation := s.budget.RegisterUsage(budgetCtx, txID, key, discount)
	cancel()
	if !reservation.Success() {
		return f.fail(reservation.Error())
	}

	logger := log.Ctx(ctx).With().Str("tx_id", txID).Str("usage_key", key.String()).Logger()

	f.enter(StepMarkUsed)
	updated, err := s.store.MarkCouponUsed(ctx, userID, coupon.ID, asOf)
	if err != nil {
		logger.Error().Err(err).Msg("budget reserved but coupon not marked used")
		return f.fail(fmt.Errorf("%w: mark coupon used: %w", domain.ErrInternal, err))
	}
	if updated == 0 {
		logger.Error().Msg("budget reserved but coupon was no longer claimable")
		return f.fail(fmt.Errorf("%w: coupon %d was used concurrently", domain.ErrCouponNotUsable, coupon.ID))
	}

	f.enter(StepInvalidateCache)
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		logger.Error().Err(err).Msg("coupon used but user cache not invalidated")
		return f.fail(fmt.Errorf("%w: invalidate cache: %w", domain.ErrInternal, err))
	}

	f.enter(StepDone)
	f.result.Success = true
	f.result.ErrorCode = domain.CodeNone
	f.result.DiscountAmount = discount
	f.result.FinalAmount = f.result.OrderAmount.Sub(discount)
	logger.Info().Str("discount", discount.String()).Msg("coupon applied")
	return f.result, nil
}

func (s *CouponService) resolveCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := s.cache.GetCouponByCode(ctx, code)
	if err == nil {
		return coupon, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Str("coupon_code", code).Msg("coupon cache read failed")
	}

	coupon, err = s.store.GetCouponByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	if err := s.cache.SetCouponByCode(ctx, coupon); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("coupon_code", code).Msg("coupon cache write failed")
	}
	return coupon, nil
}

// Rollback makes the coupon claimable again and asks the budget side to
// refund the reservation. It reports false when the user never claimed the
// coupon.
func (s *CouponService) Rollback(ctx context.Context, userID, couponID int64) (bool, error) {
	if userID <= 0 || couponID <= 0 {
		return false, fmt.Errorf("%w: user_id and coupon_id are required", domain.ErrValidation)
	}

	claim, err := s.store.GetCouponUser(ctx, userID, couponID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	coupon, err := s.store.GetCouponByID(ctx, couponID)
	if err != nil {
		return false, err
	}

	if claim.Status == domain.ClaimUsed {
		if _, err := s.store.MarkCouponClaimed(ctx, userID, couponID); err != nil {
			return false, fmt.Errorf("restore claim: %w", err)
		}
	}

	event := domain.UsageRollbackRequested{
		BudgetID:    coupon.BudgetID,
		CouponID:    couponID,
		UserID:      userID,
		RequestedAt: s.now(),
	}
	if err := s.publisher.PublishUsageRollbackRequested(ctx, event); err != nil {
		return false, fmt.Errorf("%w: publish rollback: %w", domain.ErrInternal, err)
	}

	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("user_id", userID).Msg("user cache not invalidated after rollback")
	}
	return true, nil
}
