package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azizikri/coupon-budget-ledger/internal/compensation"
	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Registrar performs the reservation on the budget side.
type Registrar interface {
	Register(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult
}

// RegisterHandler serves register requests and writes the outcome to the
// requester's reply topic. Reservation failures are replies, not retries;
// only a failed reply is redelivered.
func RegisterHandler(registrar Registrar, replies compensation.Log) compensation.Handler {
	return func(ctx context.Context, msg compensation.Message) error {
		var req RegisterRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			return fmt.Errorf("%w: register request: %w", compensation.ErrMalformed, err)
		}
		if req.CorrelationID == "" || req.ReplyTo == "" {
			return fmt.Errorf("%w: register request without reply address", compensation.ErrMalformed)
		}

		var res domain.RegistrationResult
		if req.TxID == "" || !req.Key().Valid() || !req.Amount.IsPositive() {
			res = domain.Internal(fmt.Errorf("%w: register request %s", domain.ErrValidation, req.Key()))
		} else {
			res = registrar.Register(ctx, req.TxID, req.Key(), req.Amount)
		}

		payload, err := json.Marshal(replyFor(req.CorrelationID, res))
		if err != nil {
			return fmt.Errorf("encode reply: %w", err)
		}
		return replies.Append(ctx, compensation.Message{
			Topic: req.ReplyTo,
			Key:   []byte(req.CorrelationID),
			Value: payload,
		})
	}
}
