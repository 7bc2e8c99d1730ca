package kafka

import (
	"context"
	"strconv"

	"github.com/azizikri/coupon-budget-ledger/internal/compensation"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the part of *kgo.Client used to write records.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Log is a compensation.Log backed by Kafka topics.
type Log struct {
	producer Producer
}

func NewLog(producer Producer) *Log {
	return &Log{producer: producer}
}

func (l *Log) Append(ctx context.Context, msg compensation.Message) error {
	record := &kgo.Record{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	if msg.Attempt > 0 {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: RetryHeaderAttempt, Value: []byte(strconv.Itoa(msg.Attempt))})
	}
	return l.producer.ProduceSync(ctx, record).FirstErr()
}

var _ compensation.Log = (*Log)(nil)
