package fastpath

import (
	"fmt"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

const DefaultPrefix = "budget-service"

// Keys builds the Redis key layout shared by every budget-service node.
type Keys struct {
	Prefix string
}

func (k Keys) prefix() string {
	if k.Prefix == "" {
		return DefaultPrefix
	}
	return k.Prefix
}

func (k Keys) Budget(budgetID int64) string {
	return fmt.Sprintf("%s:budget:%d", k.prefix(), budgetID)
}

func (k Keys) Usage() string {
	return k.prefix() + ":usage"
}

func (k Keys) Registered(key domain.UsageKey) string {
	return fmt.Sprintf("%s:registered:%d:%d:%d", k.prefix(), key.BudgetID, key.CouponID, key.UserID)
}

// ToMinor converts a money amount into integer cents. Sub-cent digits are
// rounded half away from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Round(domain.MoneyScale).Shift(domain.MoneyScale).IntPart()
}

func FromMinor(cents int64) decimal.Decimal {
	return decimal.New(cents, -domain.MoneyScale)
}
