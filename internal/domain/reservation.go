package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the result vocabulary shared by every reservation strategy.
type Outcome string

const (
	OutcomeNone               Outcome = "NONE"
	OutcomeInsufficientBudget Outcome = "INSUFFICIENT_BUDGET"
	OutcomeAlreadyReserved    Outcome = "ALREADY_RESERVED"
	OutcomeInternal           Outcome = "INTERNAL"
)

type RegistrationResult struct {
	Outcome Outcome
	Err     error
}

func (r RegistrationResult) Success() bool {
	return r.Outcome == OutcomeNone
}

// Error converts a non-successful result into the matching sentinel error.
func (r RegistrationResult) Error() error {
	switch r.Outcome {
	case OutcomeNone:
		return nil
	case OutcomeInsufficientBudget:
		return ErrInsufficientBudget
	case OutcomeAlreadyReserved:
		return ErrAlreadyReserved
	}
	if r.Err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, r.Err)
	}
	return ErrInternal
}

func Registered() RegistrationResult {
	return RegistrationResult{Outcome: OutcomeNone}
}

func Insufficient() RegistrationResult {
	return RegistrationResult{Outcome: OutcomeInsufficientBudget}
}

func AlreadyReserved() RegistrationResult {
	return RegistrationResult{Outcome: OutcomeAlreadyReserved}
}

func Internal(err error) RegistrationResult {
	return RegistrationResult{Outcome: OutcomeInternal, Err: err}
}

type Strategy string

const (
	StrategyDurable    Strategy = "durable"
	StrategyCacheSync  Strategy = "cache_sync"
	StrategyCacheAsync Strategy = "cache_async"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyDurable:
		return StrategyDurable, nil
	case StrategyCacheSync:
		return StrategyCacheSync, nil
	case StrategyCacheAsync:
		return StrategyCacheAsync, nil
	}
	return "", fmt.Errorf("%w: unknown reservation strategy %q", ErrValidation, s)
}

// UsageRegistered confirms a fast-path reservation into the durable ledger.
type UsageRegistered struct {
	TxID      string          `json:"tx_id"`
	BudgetID  int64           `json:"budget_id"`
	CouponID  int64           `json:"coupon_id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	UsageTime time.Time       `json:"usage_time"`
}

func (e UsageRegistered) Key() UsageKey {
	return UsageKey{BudgetID: e.BudgetID, CouponID: e.CouponID, UserID: e.UserID}
}

func (e UsageRegistered) Validate() error {
	if e.TxID == "" || !e.Key().Valid() || !e.Amount.IsPositive() {
		return fmt.Errorf("%w: usage registered event %+v", ErrValidation, e)
	}
	return nil
}

// UsageRollbackRequested asks the budget side to cancel a reservation.
type UsageRollbackRequested struct {
	BudgetID    int64     `json:"budget_id"`
	CouponID    int64     `json:"coupon_id"`
	UserID      int64     `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func (e UsageRollbackRequested) Key() UsageKey {
	return UsageKey{BudgetID: e.BudgetID, CouponID: e.CouponID, UserID: e.UserID}
}

func (e UsageRollbackRequested) Validate() error {
	if !e.Key().Valid() {
		return fmt.Errorf("%w: rollback event %+v", ErrValidation, e)
	}
	return nil
}
