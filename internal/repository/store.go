package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	db "github.com/azizikri/coupon-budget-ledger/db/gen"
	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	db.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Querier is the set of ledger statements that run inside ExecTx.
type Querier interface {
	InsertUsage(ctx context.Context, rec domain.UsageRecord) (int64, error)
	DeductBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) (int64, error)
	CancelUsage(ctx context.Context, key domain.UsageKey) (decimal.Decimal, error)
	RefundBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) (int64, error)
}

type BudgetStore interface {
	ExecTx(ctx context.Context, fn func(Querier) error) error
	Querier
	CreateBudget(ctx context.Context, id int64, remaining decimal.Decimal) (domain.Budget, error)
	GetBudget(ctx context.Context, id int64) (domain.Budget, error)
}

type CouponStore interface {
	CreateCoupon(ctx context.Context, c domain.Coupon) (domain.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error)
	GetCouponByID(ctx context.Context, id int64) (domain.Coupon, error)
	ClaimCoupon(ctx context.Context, userID, couponID int64, expiry *time.Time) (int64, error)
	GetCouponUser(ctx context.Context, userID, couponID int64) (domain.CouponUser, error)
	ListClaimedCoupons(ctx context.Context, userID int64) ([]domain.ClaimedCoupon, error)
	MarkCouponUsed(ctx context.Context, userID, couponID int64, usedAt time.Time) (int64, error)
	MarkCouponClaimed(ctx context.Context, userID, couponID int64) (int64, error)
}

type Store interface {
	BudgetStore
	CouponStore
}

type store struct {
	pool Beginner
	*querier
}

func New(pool Beginner) Store {
	return &store{
		pool:    pool,
		querier: &querier{q: db.New(pool)},
	}
}

func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	q := &querier{q: s.q.WithTx(tx)}
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %w, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type querier struct {
	q *db.Queries
}

func (q *querier) InsertUsage(ctx context.Context, rec domain.UsageRecord) (int64, error) {
	return q.q.InsertUsage(ctx, db.InsertUsageParams{
		ID:        rec.ID,
		BudgetID:  rec.Key.BudgetID,
		CouponID:  rec.Key.CouponID,
		UserID:    rec.Key.UserID,
		Amount:    toNumeric(rec.Amount),
		UsageTime: toTimestamptz(rec.UsageTime),
	})
}

func (q *querier) DeductBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) (int64, error) {
	return q.q.DeductBudget(ctx, db.DeductBudgetParams{Amount: toNumeric(amount), ID: budgetID})
}

func (q *querier) CancelUsage(ctx context.Context, key domain.UsageKey) (decimal.Decimal, error) {
	amount, err := q.q.CancelUsage(ctx, db.CancelUsageParams{
		BudgetID: key.BudgetID,
		CouponID: key.CouponID,
		UserID:   key.UserID,
	})
	if err != nil {
		return decimal.Zero, notFound(err)
	}
	return fromNumeric(amount), nil
}

func (q *querier) RefundBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) (int64, error) {
	return q.q.RefundBudget(ctx, db.RefundBudgetParams{Amount: toNumeric(amount), ID: budgetID})
}

func (s *store) CreateBudget(ctx context.Context, id int64, remaining decimal.Decimal) (domain.Budget, error) {
	b, err := s.q.CreateBudget(ctx, db.CreateBudgetParams{ID: id, Remaining: toNumeric(remaining)})
	if err != nil {
		return domain.Budget{}, duplicate(err)
	}
	return toBudget(b), nil
}

func (s *store) GetBudget(ctx context.Context, id int64) (domain.Budget, error) {
	b, err := s.q.GetBudget(ctx, id)
	if err != nil {
		return domain.Budget{}, notFound(err)
	}
	return toBudget(b), nil
}

func (s *store) CreateCoupon(ctx context.Context, c domain.Coupon) (domain.Coupon, error) {
	cfg, err := json.Marshal(c.Discount)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("encode discount config: %w", err)
	}

	row, err := s.q.CreateCoupon(ctx, db.CreateCouponParams{
		Code:            c.Code,
		BudgetID:        c.BudgetID,
		CollectionKeyID: c.CollectionKeyID,
		Title:           c.Title,
		Description:     c.Description,
		DiscountConfig:  cfg,
		ExpiryDate:      toTimestamptz(c.ExpiryDate),
		IsActive:        c.IsActive,
	})
	if err != nil {
		return domain.Coupon{}, duplicate(err)
	}
	return toCoupon(row)
}

func (s *store) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	row, err := s.q.GetCouponByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, notFound(err)
	}
	return toCoupon(row)
}

func (s *store) GetCouponByID(ctx context.Context, id int64) (domain.Coupon, error) {
	row, err := s.q.GetCouponByID(ctx, id)
	if err != nil {
		return domain.Coupon{}, notFound(err)
	}
	return toCoupon(row)
}

func (s *store) ClaimCoupon(ctx context.Context, userID, couponID int64, expiry *time.Time) (int64, error) {
	arg := db.ClaimCouponParams{UserID: userID, CouponID: couponID}
	if expiry != nil {
		arg.ExpiryDate = toTimestamptz(*expiry)
	}
	return s.q.ClaimCoupon(ctx, arg)
}

func (s *store) GetCouponUser(ctx context.Context, userID, couponID int64) (domain.CouponUser, error) {
	row, err := s.q.GetCouponUser(ctx, db.GetCouponUserParams{UserID: userID, CouponID: couponID})
	if err != nil {
		return domain.CouponUser{}, notFound(err)
	}
	return domain.CouponUser{
		ID:         row.ID,
		UserID:     row.UserID,
		CouponID:   row.CouponID,
		ClaimedAt:  row.ClaimedAt.Time,
		ExpiryDate: timePtr(row.ExpiryDate),
		Status:     domain.ClaimStatus(row.Status),
		UsedAt:     timePtr(row.UsedAt),
	}, nil
}

func (s *store) ListClaimedCoupons(ctx context.Context, userID int64) ([]domain.ClaimedCoupon, error) {
	rows, err := s.q.ListClaimedCoupons(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ClaimedCoupon, 0, len(rows))
	for _, row := range rows {
		var cfg domain.DiscountConfig
		if err := json.Unmarshal(row.DiscountConfig, &cfg); err != nil {
			return nil, fmt.Errorf("decode discount config for coupon %d: %w", row.CouponID, err)
		}
		out = append(out, domain.ClaimedCoupon{
			Claim: domain.CouponUser{
				ID:         row.ID,
				UserID:     row.UserID,
				CouponID:   row.CouponID,
				ClaimedAt:  row.ClaimedAt.Time,
				ExpiryDate: timePtr(row.ExpiryDate),
				Status:     domain.ClaimStatus(row.Status),
				UsedAt:     timePtr(row.UsedAt),
			},
			Coupon: domain.Coupon{
				ID:              row.CouponID,
				Code:            row.Code,
				BudgetID:        row.BudgetID,
				CollectionKeyID: row.CollectionKeyID,
				Title:           row.Title,
				Description:     row.Description,
				Discount:        cfg,
				ExpiryDate:      row.CouponExpiryDate.Time,
				IsActive:        row.IsActive,
			},
		})
	}
	return out, nil
}

func (s *store) MarkCouponUsed(ctx context.Context, userID, couponID int64, usedAt time.Time) (int64, error) {
	return s.q.MarkCouponUsed(ctx, db.MarkCouponUsedParams{
		UserID:   userID,
		CouponID: couponID,
		UsedAt:   toTimestamptz(usedAt),
	})
}

func (s *store) MarkCouponClaimed(ctx context.Context, userID, couponID int64) (int64, error) {
	return s.q.MarkCouponClaimed(ctx, db.MarkCouponClaimedParams{UserID: userID, CouponID: couponID})
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}

func duplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
