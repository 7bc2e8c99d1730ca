package repository

import (
	"encoding/json"
	"fmt"
	"time"

	db "github.com/azizikri/coupon-budget-ledger/db/gen"
	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func toTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func toBudget(b db.Budget) domain.Budget {
	return domain.Budget{
		ID:        b.ID,
		Remaining: fromNumeric(b.Remaining),
		CreatedAt: b.CreatedAt.Time,
		UpdatedAt: b.UpdatedAt.Time,
	}
}

func toCoupon(c db.Coupon) (domain.Coupon, error) {
	var cfg domain.DiscountConfig
	if len(c.DiscountConfig) > 0 {
		if err := json.Unmarshal(c.DiscountConfig, &cfg); err != nil {
			return domain.Coupon{}, fmt.Errorf("decode discount config for coupon %d: %w", c.ID, err)
		}
	}
	return domain.Coupon{
		ID:              c.ID,
		Code:            c.Code,
		BudgetID:        c.BudgetID,
		CollectionKeyID: c.CollectionKeyID,
		Title:           c.Title,
		Description:     c.Description,
		Discount:        cfg,
		ExpiryDate:      c.ExpiryDate.Time,
		IsActive:        c.IsActive,
	}, nil
}
