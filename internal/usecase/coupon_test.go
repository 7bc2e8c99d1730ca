package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/cache"
	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/eligibility"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	getCouponByCodeFn   func(ctx context.Context, code string) (domain.Coupon, error)
	getCouponByIDFn     func(ctx context.Context, id int64) (domain.Coupon, error)
	getCouponUserFn     func(ctx context.Context, userID, couponID int64) (domain.CouponUser, error)
	markCouponUsedFn    func(ctx context.Context, userID, couponID int64, usedAt time.Time) (int64, error)
	markCouponClaimedFn func(ctx context.Context, userID, couponID int64) (int64, error)
}

func (m *mockStore) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if m.getCouponByCodeFn != nil {
		return m.getCouponByCodeFn(ctx, code)
	}
	return domain.Coupon{}, domain.ErrNotFound
}

func (m *mockStore) GetCouponByID(ctx context.Context, id int64) (domain.Coupon, error) {
	if m.getCouponByIDFn != nil {
		return m.getCouponByIDFn(ctx, id)
	}
	return domain.Coupon{}, domain.ErrNotFound
}

func (m *mockStore) GetCouponUser(ctx context.Context, userID, couponID int64) (domain.CouponUser, error) {
	if m.getCouponUserFn != nil {
		return m.getCouponUserFn(ctx, userID, couponID)
	}
	return domain.CouponUser{}, domain.ErrNotFound
}

func (m *mockStore) MarkCouponUsed(ctx context.Context, userID, couponID int64, usedAt time.Time) (int64, error) {
	if m.markCouponUsedFn != nil {
		return m.markCouponUsedFn(ctx, userID, couponID, usedAt)
	}
	return 1, nil
}

func (m *mockStore) MarkCouponClaimed(ctx context.Context, userID, couponID int64) (int64, error) {
	if m.markCouponClaimedFn != nil {
		return m.markCouponClaimedFn(ctx, userID, couponID)
	}
	return 1, nil
}

type mockCache struct {
	getCouponByCodeFn func(ctx context.Context, code string) (domain.Coupon, error)
	setCouponByCodeFn func(ctx context.Context, coupon domain.Coupon) error
	invalidateUserFn  func(ctx context.Context, userID int64) error
	invalidated       []int64
}

func (m *mockCache) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if m.getCouponByCodeFn != nil {
		return m.getCouponByCodeFn(ctx, code)
	}
	return domain.Coupon{}, cache.ErrCacheMiss
}

func (m *mockCache) SetCouponByCode(ctx context.Context, coupon domain.Coupon) error {
	if m.setCouponByCodeFn != nil {
		return m.setCouponByCodeFn(ctx, coupon)
	}
	return nil
}

func (m *mockCache) InvalidateUser(ctx context.Context, userID int64) error {
	m.invalidated = append(m.invalidated, userID)
	if m.invalidateUserFn != nil {
		return m.invalidateUserFn(ctx, userID)
	}
	return nil
}

type mockSelector struct {
	selectBestFn func(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time) (eligibility.Selection, error)
	checkRulesFn func(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time, collectionID int64) error
}

func (m *mockSelector) SelectBest(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time) (eligibility.Selection, error) {
	if m.selectBestFn != nil {
		return m.selectBestFn(ctx, userID, orderAmount, asOf)
	}
	return eligibility.Selection{}, domain.ErrNoApplicableCoupon
}

func (m *mockSelector) CheckRules(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time, collectionID int64) error {
	if m.checkRulesFn != nil {
		return m.checkRulesFn(ctx, userID, orderAmount, asOf, collectionID)
	}
	return nil
}

type mockBudget struct {
	registerFn func(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult
	calls      int
}

func (m *mockBudget) RegisterUsage(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	m.calls++
	if m.registerFn != nil {
		return m.registerFn(ctx, txID, key, amount)
	}
	return domain.Registered()
}

type mockPublisher struct {
	publishFn func(ctx context.Context, event domain.UsageRollbackRequested) error
	events    []domain.UsageRollbackRequested
}

func (m *mockPublisher) PublishUsageRollbackRequested(ctx context.Context, event domain.UsageRollbackRequested) error {
	if m.publishFn != nil {
		if err := m.publishFn(ctx, event); err != nil {
			return err
		}
	}
	m.events = append(m.events, event)
	return nil
}

var asOf = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedCoupon() domain.Coupon {
	return domain.Coupon{
		ID:              7,
		Code:            "SAVE10",
		BudgetID:        3,
		CollectionKeyID: 11,
		Discount:        domain.DiscountConfig{Type: domain.DiscountFixedAmount, Value: decimal.NewFromInt(10)},
		ExpiryDate:      asOf.Add(24 * time.Hour),
		IsActive:        true,
	}
}

func claimOf(c domain.Coupon, userID int64, status domain.ClaimStatus) domain.CouponUser {
	return domain.CouponUser{ID: 1, UserID: userID, CouponID: c.ID, Status: status, ClaimedAt: asOf.Add(-time.Hour)}
}

type fixture struct {
	store     *mockStore
	cache     *mockCache
	selector  *mockSelector
	budget    *mockBudget
	publisher *mockPublisher
	svc       *CouponService
}

func newFixture() *fixture {
	coupon := fixedCoupon()
	f := &fixture{
		store: &mockStore{
			getCouponByCodeFn: func(ctx context.Context, code string) (domain.Coupon, error) {
				if code != coupon.Code {
					return domain.Coupon{}, domain.ErrNotFound
				}
				return coupon, nil
			},
			getCouponByIDFn: func(ctx context.Context, id int64) (domain.Coupon, error) {
				return coupon, nil
			},
			getCouponUserFn: func(ctx context.Context, userID, couponID int64) (domain.CouponUser, error) {
				return claimOf(coupon, userID, domain.ClaimClaimed), nil
			},
		},
		cache:     &mockCache{},
		selector:  &mockSelector{},
		budget:    &mockBudget{},
		publisher: &mockPublisher{},
	}
	f.svc = NewCouponService(f.store, f.cache, f.selector, f.budget, f.publisher, Options{})
	f.svc.newTxID = func() string { return "tx-1" }
	f.svc.now = func() time.Time { return asOf }
	return f
}

func TestApplyManual_Success(t *testing.T) {
	f := newFixture()
	var gotKey domain.UsageKey
	var gotAmount decimal.Decimal
	f.budget.registerFn = func(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
		assert.Equal(t, "tx-1", txID)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		gotKey, gotAmount = key, amount
		return domain.Registered()
	}
	var checkedCollection int64
	f.selector.checkRulesFn = func(ctx context.Context, userID int64, orderAmount decimal.Decimal, at time.Time, collectionID int64) error {
		checkedCollection = collectionID
		return nil
	}
	var cached bool
	f.cache.setCouponByCodeFn = func(ctx context.Context, coupon domain.Coupon) error {
		cached = true
		return nil
	}

	res, err := f.svc.ApplyManual(context.Background(), 42, " SAVE10 ", decimal.NewFromInt(100), asOf)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, StepDone, res.Step)
	assert.Equal(t, domain.CodeNone, res.ErrorCode)
	assert.Equal(t, int64(7), res.CouponID)
	assert.True(t, decimal.NewFromInt(10).Equal(res.DiscountAmount))
	assert.True(t, decimal.NewFromInt(90).Equal(res.FinalAmount))
	assert.Equal(t, domain.UsageKey{BudgetID: 3, CouponID: 7, UserID: 42}, gotKey)
	assert.True(t, decimal.NewFromInt(10).Equal(gotAmount))
	assert.Equal(t, int64(11), checkedCollection)
	assert.True(t, cached)
	assert.Equal(t, []int64{42}, f.cache.invalidated)
}

func TestApplyManual_CacheHitSkipsStore(t *testing.T) {
	f := newFixture()
	f.cache.getCouponByCodeFn = func(ctx context.Context, code string) (domain.Coupon, error) {
		return fixedCoupon(), nil
	}
	f.store.getCouponByCodeFn = func(ctx context.Context, code string) (domain.Coupon, error) {
		t.Fatal("store should not be read on a cache hit")
		return domain.Coupon{}, nil
	}

	res, err := f.svc.ApplyManual(context.Background(), 42, "SAVE10", decimal.NewFromInt(100), asOf)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestApplyManual_Validation(t *testing.T) {
	f := newFixture()
	cases := map[string]struct {
		userID int64
		code   string
		amount decimal.Decimal
	}{
		"no user":      {0, "SAVE10", decimal.NewFromInt(100)},
		"blank code":   {42, "  ", decimal.NewFromInt(100)},
		"zero amount":  {42, "SAVE10", decimal.Zero},
		"negative sum": {42, "SAVE10", decimal.NewFromInt(-5)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := f.svc.ApplyManual(context.Background(), tc.userID, tc.code, tc.amount, asOf)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, StepValidate, res.Step)
			assert.Equal(t, domain.CodeValidation, res.ErrorCode)
		})
	}
	assert.Zero(t, f.budget.calls)
}

func TestApplyManual_FailureSteps(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		code     string
		wantErr  error
		wantStep Step
		wantCode domain.ErrorCode
	}{
		{
			name:     "unknown code",
			setup:    func(f *fixture) {},
			code:     "NOPE",
			wantErr:  domain.ErrNotFound,
			wantStep: StepResolveCoupon,
			wantCode: domain.CodeNotFound,
		},
		{
			name: "not claimed",
			setup: func(f *fixture) {
				f.store.getCouponUserFn = func(ctx context.Context, userID, couponID int64) (domain.CouponUser, error) {
					return domain.CouponUser{}, domain.ErrNotFound
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrCouponNotUsable,
			wantStep: StepResolveCoupon,
			wantCode: domain.CodeNotUsable,
		},
		{
			name: "already used",
			setup: func(f *fixture) {
				f.store.getCouponUserFn = func(ctx context.Context, userID, couponID int64) (domain.CouponUser, error) {
					return claimOf(fixedCoupon(), userID, domain.ClaimUsed), nil
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrCouponNotUsable,
			wantStep: StepCheckUsable,
			wantCode: domain.CodeNotUsable,
		},
		{
			name: "rules fail",
			setup: func(f *fixture) {
				f.selector.checkRulesFn = func(ctx context.Context, userID int64, orderAmount decimal.Decimal, at time.Time, collectionID int64) error {
					return domain.ErrRuleViolation
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrRuleViolation,
			wantStep: StepCheckRules,
			wantCode: domain.CodeRuleViolation,
		},
		{
			name: "insufficient budget",
			setup: func(f *fixture) {
				f.budget.registerFn = func(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
					return domain.Insufficient()
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrInsufficientBudget,
			wantStep: StepReserveBudget,
			wantCode: domain.CodeInsufficientBudget,
		},
		{
			name: "already reserved",
			setup: func(f *fixture) {
				f.budget.registerFn = func(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
					return domain.AlreadyReserved()
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrAlreadyReserved,
			wantStep: StepReserveBudget,
			wantCode: domain.CodeAlreadyReserved,
		},
		{
			name: "lock contention",
			setup: func(f *fixture) {
				f.budget.registerFn = func(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
					return domain.Internal(domain.ErrLockContention)
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrLockContention,
			wantStep: StepReserveBudget,
			wantCode: domain.CodeLockContention,
		},
		{
			name: "mark used fails",
			setup: func(f *fixture) {
				f.store.markCouponUsedFn = func(ctx context.Context, userID, couponID int64, usedAt time.Time) (int64, error) {
					return 0, errors.New("connection reset")
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrInternal,
			wantStep: StepMarkUsed,
			wantCode: domain.CodeInternal,
		},
		{
			name: "cache invalidation fails",
			setup: func(f *fixture) {
				f.cache.invalidateUserFn = func(ctx context.Context, userID int64) error {
					return errors.New("redis down")
				}
			},
			code:     "SAVE10",
			wantErr:  domain.ErrInternal,
			wantStep: StepInvalidateCache,
			wantCode: domain.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			res, err := f.svc.ApplyManual(context.Background(), 42, tt.code, decimal.NewFromInt(100), asOf)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantStep, res.Step)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			assert.True(t, res.DiscountAmount.IsZero())
		})
	}
}

func TestApplyManual_MarkUsedFailureKeepsReservation(t *testing.T) {
	f := newFixture()
	f.store.markCouponUsedFn = func(ctx context.Context, userID, couponID int64, usedAt time.Time) (int64, error) {
		return 0, nil
	}

	res, err := f.svc.ApplyManual(context.Background(), 42, "SAVE10", decimal.NewFromInt(100), asOf)
	require.ErrorIs(t, err, domain.ErrCouponNotUsable)
	assert.Equal(t, StepMarkUsed, res.Step)
	assert.Equal(t, 1, f.budget.calls)
	assert.Empty(t, f.publisher.events)
}

func TestApplyManual_DefaultsAsOfToNow(t *testing.T) {
	f := newFixture()
	var usedAt time.Time
	f.store.markCouponUsedFn = func(ctx context.Context, userID, couponID int64, at time.Time) (int64, error) {
		usedAt = at
		return 1, nil
	}

	_, err := f.svc.ApplyManual(context.Background(), 42, "SAVE10", decimal.NewFromInt(100), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, asOf, usedAt)
}

func TestApplyAuto_Success(t *testing.T) {
	f := newFixture()
	coupon := fixedCoupon()
	f.selector.selectBestFn = func(ctx context.Context, userID int64, orderAmount decimal.Decimal, at time.Time) (eligibility.Selection, error) {
		return eligibility.Selection{
			Coupon:   coupon,
			Claim:    claimOf(coupon, userID, domain.ClaimClaimed),
			Discount: decimal.NewFromInt(10),
		}, nil
	}

	res, err := f.svc.ApplyAuto(context.Background(), 42, decimal.NewFromInt(100), asOf)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "SAVE10", res.CouponCode)
	assert.True(t, decimal.NewFromInt(90).Equal(res.FinalAmount))
	assert.Equal(t, 1, f.budget.calls)
}

func TestApplyAuto_NoCouponIsNotAnError(t *testing.T) {
	f := newFixture()

	res, err := f.svc.ApplyAuto(context.Background(), 42, decimal.NewFromInt(100), asOf)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeNoApplicableCoupon, res.ErrorCode)
	assert.True(t, res.DiscountAmount.IsZero())
	assert.True(t, decimal.NewFromInt(100).Equal(res.FinalAmount))
	assert.Zero(t, f.budget.calls)
}

func TestApplyAuto_SelectorError(t *testing.T) {
	f := newFixture()
	f.selector.selectBestFn = func(ctx context.Context, userID int64, orderAmount decimal.Decimal, at time.Time) (eligibility.Selection, error) {
		return eligibility.Selection{}, errors.New("db down")
	}

	res, err := f.svc.ApplyAuto(context.Background(), 42, decimal.NewFromInt(100), asOf)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInternal, res.ErrorCode)
	assert.Equal(t, StepResolveCoupon, res.Step)
}

func TestRollback_UsedClaim(t *testing.T) {
	f := newFixture()
	f.store.getCouponUserFn = func(ctx context.Context, userID, couponID int64) (domain.CouponUser, error) {
		return claimOf(fixedCoupon(), userID, domain.ClaimUsed), nil
	}
	var restored bool
	f.store.markCouponClaimedFn = func(ctx context.Context, userID, couponID int64) (int64, error) {
		restored = true
		return 1, nil
	}

	ok, err := f.svc.Rollback(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, restored)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, domain.UsageKey{BudgetID: 3, CouponID: 7, UserID: 42}, f.publisher.events[0].Key())
	assert.Equal(t, asOf, f.publisher.events[0].RequestedAt)
	assert.Equal(t, []int64{42}, f.cache.invalidated)
}

func TestRollback_ClaimedStillPublishes(t *testing.T) {
	f := newFixture()
	f.store.markCouponClaimedFn = func(ctx context.Context, userID, couponID int64) (int64, error) {
		t.Fatal("claim is already CLAIMED")
		return 0, nil
	}

	ok, err := f.svc.Rollback(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, f.publisher.events, 1)
}

func TestRollback_NoClaim(t *testing.T) {
	f := newFixture()
	f.store.getCouponUserFn = func(ctx context.Context, userID, couponID int64) (domain.CouponUser, error) {
		return domain.CouponUser{}, domain.ErrNotFound
	}

	ok, err := f.svc.Rollback(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.publisher.events)
}

func TestRollback_PublishFailure(t *testing.T) {
	f := newFixture()
	f.publisher.publishFn = func(ctx context.Context, event domain.UsageRollbackRequested) error {
		return errors.New("broker unavailable")
	}

	ok, err := f.svc.Rollback(context.Background(), 42, 7)
	require.ErrorIs(t, err, domain.ErrInternal)
	assert.False(t, ok)
}

func TestRollback_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Rollback(context.Background(), 0, 7)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
