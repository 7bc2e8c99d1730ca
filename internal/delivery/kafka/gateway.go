package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/usecase"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/twmb/franz-go/pkg/kgo"
)

var errReplyTimeout = errors.New("timeout waiting for budget reply")

// Gateway reserves budget through the register topic and waits for the reply
// on this instance's reply topic.
type Gateway struct {
	producer    Producer
	replyTo     string
	timeout     time.Duration
	pendingResp sync.Map
}

func NewGateway(producer Producer, instanceID string) *Gateway {
	return &Gateway{
		producer: producer,
		replyTo:  ReplyTopic(instanceID),
		timeout:  RequestTimeout,
	}
}

func (g *Gateway) RegisterUsage(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	req := RegisterRequest{
		SchemaVersion: SchemaVersion,
		CorrelationID: uuid.New().String(),
		ReplyTo:       g.replyTo,
		TxID:          txID,
		BudgetID:      key.BudgetID,
		CouponID:      key.CouponID,
		UserID:        key.UserID,
		Amount:        amount,
	}

	reply, err := g.requestReply(ctx, TopicRegisterRequest, []byte(key.String()), req)
	if err != nil {
		return domain.Internal(err)
	}
	return reply.Result()
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RegisterRequest) (*RegisterReply, error) {
	respChan := make(chan *RegisterReply, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode register request: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}
	if err := g.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, fmt.Errorf("produce register request: %w", err)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errReplyTimeout
	}
}

// HandleResponse routes a reply to the waiting request, if any.
func (g *Gateway) HandleResponse(payload []byte) {
	var resp RegisterReply
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Warn().Err(err).Msg("failed to decode budget reply")
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		select {
		case ch.(chan *RegisterReply) <- &resp:
		default:
		}
		return
	}

	log.Debug().Str("correlation_id", resp.CorrelationID).Msg("no pending request for reply")
}

// StartReplies feeds this instance's reply topic into HandleResponse.
func (g *Gateway) StartReplies(ctx context.Context, client Poller) {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachRecord(func(record *kgo.Record) {
			g.HandleResponse(record.Value)
		})
	}
}

var _ usecase.BudgetGateway = (*Gateway)(nil)
