package compensation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type UsageRegistrar interface {
	RegisterUsage(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult
}

// UsageReverser cancels a registered usage. The reservation coordinator
// implements it so cache counters are restored along with the ledger.
type UsageReverser interface {
	Rollback(ctx context.Context, key domain.UsageKey) (bool, error)
}

// ConfirmHandler replays fast-path reservations into the durable ledger.
func ConfirmHandler(ledger UsageRegistrar) Handler {
	return func(ctx context.Context, msg Message) error {
		var event domain.UsageRegistered
		if err := decode(msg, &event); err != nil {
			return err
		}
		if err := event.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		logger := log.Ctx(ctx).With().
			Str("tx_id", event.TxID).
			Str("usage_key", event.Key().String()).
			Int("attempt", msg.Attempt).
			Logger()

		res := ledger.RegisterUsage(ctx, event.TxID, event.Key(), event.Amount)
		switch res.Outcome {
		case domain.OutcomeNone:
			logger.Debug().Msg("usage confirmed")
			return nil
		case domain.OutcomeAlreadyReserved:
			logger.Debug().Msg("usage already confirmed")
			return nil
		case domain.OutcomeInsufficientBudget:
			driftTotal.Inc()
			logger.Error().Str("amount", event.Amount.String()).Msg("ledger drift: durable budget cannot cover cache reservation")
			return nil
		}
		return res.Error()
	}
}

// RollbackHandler cancels the usage named by a rollback request.
func RollbackHandler(reverser UsageReverser) Handler {
	return func(ctx context.Context, msg Message) error {
		var event domain.UsageRollbackRequested
		if err := decode(msg, &event); err != nil {
			return err
		}
		if err := event.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		reversed, err := reverser.Rollback(ctx, event.Key())
		if err != nil {
			return fmt.Errorf("reverse usage %s: %w", event.Key(), err)
		}
		if !reversed {
			log.Ctx(ctx).Info().Str("usage_key", event.Key().String()).Msg("no registered usage to reverse")
		}
		return nil
	}
}

func decode(msg Message, dst any) error {
	if err := json.Unmarshal(msg.Value, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, msg.Topic, err)
	}
	return nil
}
