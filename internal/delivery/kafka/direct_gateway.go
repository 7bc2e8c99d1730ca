package kafka

import (
	"context"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/usecase"
	"github.com/shopspring/decimal"
)

// DirectGateway reserves budget in process, for deployments without the
// broker request path.
type DirectGateway struct {
	registrar Registrar
}

func NewDirectGateway(registrar Registrar) usecase.BudgetGateway {
	return &DirectGateway{registrar: registrar}
}

func (g *DirectGateway) RegisterUsage(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	return g.registrar.Register(ctx, txID, key, amount)
}
