package usecase

import (
	"context"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/eligibility"
	"github.com/shopspring/decimal"
)

// CouponApplier is what the delivery layers call.
type CouponApplier interface {
	ApplyManual(ctx context.Context, userID int64, code string, orderAmount decimal.Decimal, asOf time.Time) (ApplyResult, error)
	ApplyAuto(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time) (ApplyResult, error)
	Rollback(ctx context.Context, userID, couponID int64) (bool, error)
}

// BudgetGateway reserves budget, in process or across the message log.
type BudgetGateway interface {
	RegisterUsage(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult
}

type EventPublisher interface {
	PublishUsageRollbackRequested(ctx context.Context, event domain.UsageRollbackRequested) error
}

type CouponStore interface {
	GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error)
	GetCouponByID(ctx context.Context, id int64) (domain.Coupon, error)
	GetCouponUser(ctx context.Context, userID, couponID int64) (domain.CouponUser, error)
	MarkCouponUsed(ctx context.Context, userID, couponID int64, usedAt time.Time) (int64, error)
	MarkCouponClaimed(ctx context.Context, userID, couponID int64) (int64, error)
}

type CouponCache interface {
	GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error)
	SetCouponByCode(ctx context.Context, coupon domain.Coupon) error
	InvalidateUser(ctx context.Context, userID int64) error
}

type Selector interface {
	SelectBest(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time) (eligibility.Selection, error)
	CheckRules(ctx context.Context, userID int64, orderAmount decimal.Decimal, asOf time.Time, collectionID int64) error
}
