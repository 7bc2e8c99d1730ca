package compensation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
)

const (
	TopicUsageConfirm  = "budget.confirm.req"
	TopicUsageRollback = "budget.rollback.req"
)

// Publisher writes domain events to the log, keyed by usage key so every
// event for one reservation lands on the same partition.
type Publisher struct {
	log Log
}

func NewPublisher(log Log) *Publisher {
	return &Publisher{log: log}
}

func (p *Publisher) PublishUsageRegistered(ctx context.Context, event domain.UsageRegistered) error {
	return p.publish(ctx, TopicUsageConfirm, event.Key(), event)
}

func (p *Publisher) PublishUsageRollbackRequested(ctx context.Context, event domain.UsageRollbackRequested) error {
	return p.publish(ctx, TopicUsageRollback, event.Key(), event)
}

func (p *Publisher) publish(ctx context.Context, topic string, key domain.UsageKey, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return p.log.Append(ctx, Message{
		Topic: topic,
		Key:   []byte(key.String()),
		Value: payload,
	})
}
