package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type UsageStatus string

const (
	UsageRegistered UsageStatus = "REGISTERED"
	UsageCancelled  UsageStatus = "CANCELLED"
)

type ClaimStatus string

const (
	ClaimClaimed ClaimStatus = "CLAIMED"
	ClaimUsed    ClaimStatus = "USED"
)

type Budget struct {
	ID        int64           `json:"id"`
	Remaining decimal.Decimal `json:"remaining"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UsageKey identifies the at-most-once slot of a reservation.
type UsageKey struct {
	BudgetID int64 `json:"budget_id"`
	CouponID int64 `json:"coupon_id"`
	UserID   int64 `json:"user_id"`
}

func (k UsageKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.BudgetID, k.CouponID, k.UserID)
}

func (k UsageKey) Valid() bool {
	return k.BudgetID > 0 && k.CouponID > 0 && k.UserID > 0
}

type UsageRecord struct {
	ID        string          `json:"id"`
	Key       UsageKey        `json:"key"`
	Amount    decimal.Decimal `json:"amount"`
	Status    UsageStatus     `json:"status"`
	UsageTime time.Time       `json:"usage_time"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Coupon struct {
	ID              int64          `json:"id"`
	Code            string         `json:"code"`
	BudgetID        int64          `json:"budget_id"`
	CollectionKeyID int64          `json:"collection_key_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Discount        DiscountConfig `json:"discount"`
	ExpiryDate      time.Time      `json:"expiry_date"`
	IsActive        bool           `json:"is_active"`
}

// CouponUser is a user's claim on a coupon. The parent coupon is looked up
// by CouponID and passed in where needed.
type CouponUser struct {
	ID         int64       `json:"id"`
	UserID     int64       `json:"user_id"`
	CouponID   int64       `json:"coupon_id"`
	ClaimedAt  time.Time   `json:"claimed_at"`
	ExpiryDate *time.Time  `json:"expiry_date,omitempty"`
	Status     ClaimStatus `json:"status"`
	UsedAt     *time.Time  `json:"used_at,omitempty"`
}

// Usable reports whether the claim can be redeemed for an order placed at asOf.
func (c CouponUser) Usable(parent Coupon, asOf time.Time) bool {
	if c.ExpiryDate != nil && c.ExpiryDate.Before(asOf) {
		return false
	}
	if parent.ExpiryDate.Before(asOf) {
		return false
	}
	return c.Status == ClaimClaimed
}

// ClaimedCoupon joins a claim with its parent coupon.
type ClaimedCoupon struct {
	Claim  CouponUser `json:"claim"`
	Coupon Coupon     `json:"coupon"`
}

func (c ClaimedCoupon) Usable(asOf time.Time) bool {
	return c.Coupon.IsActive && c.Claim.Usable(c.Coupon, asOf)
}

func JoinClaims(claims []CouponUser, coupons []Coupon) []ClaimedCoupon {
	byID := make(map[int64]Coupon, len(coupons))
	for _, c := range coupons {
		byID[c.ID] = c
	}

	joined := make([]ClaimedCoupon, 0, len(claims))
	for _, claim := range claims {
		parent, ok := byID[claim.CouponID]
		if !ok {
			continue
		}
		joined = append(joined, ClaimedCoupon{Claim: claim, Coupon: parent})
	}
	return joined
}
