package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// errInsufficient aborts the transaction after a failed conditional deduct.
var errInsufficient = errors.New("conditional deduct matched no rows")

// Service is the durable source of truth for budgets and usage records.
type Service struct {
	store repository.BudgetStore
	now   func() time.Time
}

func NewService(store repository.BudgetStore) *Service {
	return &Service{store: store, now: time.Now}
}

// RegisterUsage records the usage and deducts the budget in one transaction.
// The usage insert runs first so a duplicate never touches the balance.
func (s *Service) RegisterUsage(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	if txID == "" || !key.Valid() || !amount.IsPositive() {
		return domain.Internal(fmt.Errorf("%w: tx=%q key=%s amount=%s", domain.ErrValidation, txID, key, amount))
	}

	var outcome domain.RegistrationResult
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		inserted, err := q.InsertUsage(ctx, domain.UsageRecord{
			ID:        txID,
			Key:       key,
			Amount:    amount,
			Status:    domain.UsageRegistered,
			UsageTime: now,
		})
		if err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}
		if inserted == 0 {
			outcome = domain.AlreadyReserved()
			return nil
		}

		deducted, err := q.DeductBudget(ctx, key.BudgetID, amount)
		if err != nil {
			return fmt.Errorf("deduct budget: %w", err)
		}
		if deducted == 0 {
			return errInsufficient
		}

		outcome = domain.Registered()
		return nil
	})

	switch {
	case errors.Is(err, errInsufficient):
		return domain.Insufficient()
	case err != nil:
		log.Ctx(ctx).Error().Err(err).
			Str("tx_id", txID).
			Str("usage_key", key.String()).
			Str("amount", amount.String()).
			Msg("register usage failed")
		return domain.Internal(err)
	}
	return outcome
}

// ReverseUsageAndRefund cancels the REGISTERED usage for key and refunds its
// recorded amount. It returns false when there was nothing to cancel.
func (s *Service) ReverseUsageAndRefund(ctx context.Context, key domain.UsageKey) (bool, error) {
	_, reversed, err := s.Reverse(ctx, key)
	return reversed, err
}

// Reverse is ReverseUsageAndRefund that also reports the refunded amount.
func (s *Service) Reverse(ctx context.Context, key domain.UsageKey) (decimal.Decimal, bool, error) {
	reversed := false
	refundedAmount := decimal.Zero
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		amount, err := q.CancelUsage(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("cancel usage: %w", err)
		}

		refunded, err := q.RefundBudget(ctx, key.BudgetID, amount)
		if err != nil {
			return fmt.Errorf("refund budget: %w", err)
		}
		if refunded != 1 {
			return fmt.Errorf("refund budget %d: %d rows affected", key.BudgetID, refunded)
		}

		reversed = true
		refundedAmount = amount
		return nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return refundedAmount, reversed, nil
}

func (s *Service) ProvisionBudget(ctx context.Context, id int64, amount decimal.Decimal) (domain.Budget, error) {
	if id <= 0 || amount.IsNegative() {
		return domain.Budget{}, fmt.Errorf("%w: budget id=%d amount=%s", domain.ErrValidation, id, amount)
	}
	return s.store.CreateBudget(ctx, id, amount.Round(domain.MoneyScale))
}

func (s *Service) GetBudget(ctx context.Context, id int64) (domain.Budget, error) {
	return s.store.GetBudget(ctx, id)
}
