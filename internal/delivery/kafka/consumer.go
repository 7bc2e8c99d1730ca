package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/compensation"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Poller is the part of *kgo.Client used by consumers.
type Poller interface {
	Producer
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(offsets map[string]map[int32]kgo.EpochOffset)
}

// Consumer dispatches request topics to compensation handlers. A failed
// record is re-produced to its retry topic and a malformed one to its DLQ,
// so the partition never blocks. A record is committed only once it was
// handled or handed to one of those topics; otherwise its partition is
// rewound and the record is fetched again.
type Consumer struct {
	client     Poller
	handlers   map[string]compensation.Handler
	retryDelay time.Duration
	now        func() time.Time
	ready      chan struct{}
}

func NewConsumer(client Poller, handlers map[string]compensation.Handler, retryDelay time.Duration) *Consumer {
	return &Consumer{
		client:     client,
		handlers:   handlers,
		retryDelay: retryDelay,
		now:        time.Now,
		ready:      make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	logger := log.Ctx(ctx)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("consumer poll error")
		})

		if !c.settle(ctx, fetches, c.processRecord) {
			return
		}
	}
}

// StartRetry moves retry records back to their request topic once due.
func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if !c.settle(ctx, fetches, c.requeue) {
			return
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

// settle runs process over each partition in order and stops a partition at
// its first unsettled record. Settled records are committed; partitions that
// stopped early are rewound to the failed offset after a pause. It reports
// false once ctx is done.
func (c *Consumer) settle(ctx context.Context, fetches kgo.Fetches, process func(context.Context, *kgo.Record) error) bool {
	var done []*kgo.Record
	rewind := map[string]map[int32]kgo.EpochOffset{}

	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		for _, record := range p.Records {
			if ctx.Err() != nil {
				return
			}
			if err := process(ctx, record); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Str("topic", record.Topic).
					Int32("partition", record.Partition).
					Int64("offset", record.Offset).
					Msg("record not settled, rewinding partition")
				if rewind[record.Topic] == nil {
					rewind[record.Topic] = map[int32]kgo.EpochOffset{}
				}
				rewind[record.Topic][record.Partition] = kgo.EpochOffset{Epoch: record.LeaderEpoch, Offset: record.Offset}
				return
			}
			done = append(done, record)
		}
	})

	if len(done) > 0 {
		if err := c.client.CommitRecords(ctx, done...); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to commit records")
		}
	}
	if ctx.Err() != nil {
		return false
	}
	if len(rewind) == 0 {
		return true
	}

	c.client.SetOffsets(rewind)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

func (c *Consumer) requeue(ctx context.Context, record *kgo.Record) error {
	if nextAt, ok := retryNextAt(record); ok {
		if wait := nextAt.Sub(c.now()); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	requeued := &kgo.Record{
		Topic:   RequestTopic(record.Topic),
		Key:     record.Key,
		Value:   record.Value,
		Headers: record.Headers,
	}
	if err := c.client.ProduceSync(ctx, requeued).FirstErr(); err != nil {
		return fmt.Errorf("requeue to %s: %w", requeued.Topic, err)
	}
	return nil
}

// processRecord returns nil once the record no longer needs this partition:
// handled, moved to retry or moved to the DLQ.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	handler, ok := c.handlers[record.Topic]
	if !ok {
		log.Ctx(ctx).Warn().Str("topic", record.Topic).Msg("no handler for topic")
		return nil
	}

	msg := compensation.Message{
		Topic:   record.Topic,
		Key:     record.Key,
		Value:   record.Value,
		Attempt: attempt(record),
	}
	err := handler(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, compensation.ErrMalformed):
		return c.sendDLQ(ctx, record, err)
	default:
		return c.sendRetry(ctx, record, msg.Attempt+1, err)
	}
}

func (c *Consumer) sendRetry(ctx context.Context, record *kgo.Record, nextAttempt int, cause error) error {
	log.Ctx(ctx).Warn().Err(cause).
		Str("topic", record.Topic).
		Int("attempt", nextAttempt).
		Msg("handler failed, scheduling retry")

	retry := &kgo.Record{
		Topic: RetryTopic(record.Topic),
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: RetryHeaderNextAt, Value: []byte(c.now().Add(c.retryDelay).UTC().Format(time.RFC3339Nano))},
			{Key: RetryHeaderAttempt, Value: []byte(strconv.Itoa(nextAttempt))},
		},
	}
	if err := c.client.ProduceSync(ctx, retry).FirstErr(); err != nil {
		return fmt.Errorf("produce retry to %s: %w", retry.Topic, err)
	}
	return nil
}

func (c *Consumer) sendDLQ(ctx context.Context, record *kgo.Record, cause error) error {
	log.Ctx(ctx).Error().Err(cause).Str("topic", record.Topic).Msg("malformed record moved to DLQ")

	dlq := &kgo.Record{
		Topic: DLQTopic(record.Topic),
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(cause.Error())},
		},
	}
	if err := c.client.ProduceSync(ctx, dlq).FirstErr(); err != nil {
		return fmt.Errorf("produce dlq to %s: %w", dlq.Topic, err)
	}
	return nil
}

func header(record *kgo.Record, key string) (string, bool) {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	value, ok := header(record, RetryHeaderNextAt)
	if !ok {
		return time.Time{}, false
	}
	nextAt, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return nextAt, true
}

func attempt(record *kgo.Record) int {
	value, ok := header(record, RetryHeaderAttempt)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
