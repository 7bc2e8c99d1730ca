package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

var hundred = decimal.NewFromInt(100)

type discountFunc func(cfg DiscountConfig, orderAmount decimal.Decimal) decimal.Decimal

var discountFuncs = map[DiscountType]discountFunc{
	DiscountPercentage: func(cfg DiscountConfig, orderAmount decimal.Decimal) decimal.Decimal {
		return orderAmount.Mul(cfg.Value).Div(hundred)
	},
	DiscountFixedAmount: func(cfg DiscountConfig, _ decimal.Decimal) decimal.Decimal {
		return cfg.Value
	},
}

type DiscountConfig struct {
	Type        DiscountType     `json:"type"`
	Value       decimal.Decimal  `json:"value"`
	MaxDiscount *decimal.Decimal `json:"max_discount,omitempty"`
}

func (c *DiscountConfig) UnmarshalJSON(data []byte) error {
	type raw DiscountConfig
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	r.Type = DiscountType(strings.ToUpper(strings.TrimSpace(string(r.Type))))
	*c = DiscountConfig(r)
	return nil
}

func (c DiscountConfig) Known() bool {
	_, ok := discountFuncs[c.Type]
	return ok
}

// Apply computes the discount for orderAmount. The result is rounded to
// MoneyScale and always lies within [0, orderAmount] and under MaxDiscount.
func (c DiscountConfig) Apply(orderAmount decimal.Decimal) decimal.Decimal {
	fn, ok := discountFuncs[c.Type]
	if !ok || !orderAmount.IsPositive() {
		return decimal.Zero
	}

	discount := fn(c, orderAmount)
	if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
		discount = *c.MaxDiscount
	}
	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount.Round(MoneyScale)
}

func (c Coupon) DiscountFor(orderAmount decimal.Decimal) decimal.Decimal {
	return c.Discount.Apply(orderAmount)
}
