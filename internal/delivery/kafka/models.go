package kafka

import (
	"errors"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// RegisterRequest asks the budget consumer to reserve an amount.
type RegisterRequest struct {
	SchemaVersion int             `json:"schema_version"`
	CorrelationID string          `json:"correlation_id"`
	ReplyTo       string          `json:"reply_to"`
	TxID          string          `json:"tx_id"`
	BudgetID      int64           `json:"budget_id"`
	CouponID      int64           `json:"coupon_id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
}

func (r RegisterRequest) Key() domain.UsageKey {
	return domain.UsageKey{BudgetID: r.BudgetID, CouponID: r.CouponID, UserID: r.UserID}
}

type RegisterReply struct {
	SchemaVersion int              `json:"schema_version"`
	CorrelationID string           `json:"correlation_id"`
	Outcome       domain.Outcome   `json:"outcome"`
	ErrorCode     domain.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}

func replyFor(correlationID string, res domain.RegistrationResult) RegisterReply {
	reply := RegisterReply{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Outcome:       res.Outcome,
	}
	if err := res.Error(); err != nil {
		reply.ErrorCode = domain.CodeOf(err)
		reply.ErrorMessage = err.Error()
	}
	return reply
}

// Result rebuilds the registration result carried by a reply.
func (r RegisterReply) Result() domain.RegistrationResult {
	switch r.Outcome {
	case domain.OutcomeNone:
		return domain.Registered()
	case domain.OutcomeInsufficientBudget:
		return domain.Insufficient()
	case domain.OutcomeAlreadyReserved:
		return domain.AlreadyReserved()
	}
	if r.ErrorCode == domain.CodeLockContention {
		return domain.Internal(domain.ErrLockContention)
	}
	return domain.Internal(errors.New(r.ErrorMessage))
}
