package usecase

import (
	"context"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type BudgetLedger interface {
	ProvisionBudget(ctx context.Context, id int64, amount decimal.Decimal) (domain.Budget, error)
	GetBudget(ctx context.Context, id int64) (domain.Budget, error)
}

type BudgetCacheSyncer interface {
	SyncCache(ctx context.Context, budgetID int64) (domain.Budget, error)
}

// BudgetService is the admin surface over budgets.
type BudgetService struct {
	ledger BudgetLedger
	syncer BudgetCacheSyncer
}

func NewBudgetService(ledger BudgetLedger, syncer BudgetCacheSyncer) *BudgetService {
	return &BudgetService{ledger: ledger, syncer: syncer}
}

// Provision creates the budget and seeds its cache counter. A failed seed is
// logged; the budget can be synced later.
func (s *BudgetService) Provision(ctx context.Context, id int64, amount decimal.Decimal) (domain.Budget, error) {
	budget, err := s.ledger.ProvisionBudget(ctx, id, amount)
	if err != nil {
		return domain.Budget{}, err
	}
	if _, err := s.syncer.SyncCache(ctx, id); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("budget_id", id).Msg("budget cache not seeded")
	}
	return budget, nil
}

func (s *BudgetService) Get(ctx context.Context, id int64) (domain.Budget, error) {
	return s.ledger.GetBudget(ctx, id)
}

func (s *BudgetService) Sync(ctx context.Context, id int64) (domain.Budget, error) {
	return s.syncer.SyncCache(ctx, id)
}
