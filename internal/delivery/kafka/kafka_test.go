package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/compensation"
	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeClient struct {
	mu        sync.Mutex
	produced  []*kgo.Record
	err       error
	onProduce func(r *kgo.Record)

	batches   []kgo.Fetches
	committed []*kgo.Record
	rewound   map[string]map[int32]kgo.EpochOffset
	onRewind  func()
}

func (f *fakeClient) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.mu.Lock()
		f.produced = append(f.produced, r)
		hook := f.onProduce
		f.mu.Unlock()
		if hook != nil && f.err == nil {
			hook(r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeClient) PollFetches(ctx context.Context) kgo.Fetches {
	f.mu.Lock()
	if len(f.batches) > 0 {
		next := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return next
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kgo.Fetches{}
}

func (f *fakeClient) CommitRecords(ctx context.Context, rs ...*kgo.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, rs...)
	return nil
}

func (f *fakeClient) SetOffsets(offsets map[string]map[int32]kgo.EpochOffset) {
	f.mu.Lock()
	f.rewound = offsets
	hook := f.onRewind
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeClient) commits() []*kgo.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kgo.Record(nil), f.committed...)
}

func fetchOf(records ...*kgo.Record) kgo.Fetches {
	var partitions []kgo.FetchPartition
	for _, r := range records {
		if n := len(partitions); n == 0 || partitions[n-1].Partition != r.Partition {
			partitions = append(partitions, kgo.FetchPartition{Partition: r.Partition})
		}
		partitions[len(partitions)-1].Records = append(partitions[len(partitions)-1].Records, r)
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{Topic: records[0].Topic, Partitions: partitions}}}}
}

func (f *fakeClient) records() []*kgo.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kgo.Record(nil), f.produced...)
}

type captureLog struct {
	msgs []compensation.Message
	err  error
}

func (c *captureLog) Append(ctx context.Context, msg compensation.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

type registrarFunc func(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult

func (f registrarFunc) Register(ctx context.Context, txID string, key domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
	return f(ctx, txID, key, amount)
}

var key = domain.UsageKey{BudgetID: 1, CouponID: 2, UserID: 3}

func headerValue(r *kgo.Record, name string) string {
	v, _ := header(r, name)
	return v
}

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "budget.confirm.retry", RetryTopic(TopicConfirmRequest))
	assert.Equal(t, "budget.confirm.req", RequestTopic("budget.confirm.retry"))
	assert.Equal(t, "budget.rollback.req.dlq", DLQTopic(TopicRollbackRequest))
	assert.Equal(t, "budget.reply.node-1", ReplyTopic("node-1"))

	topics := Topics("node-1")
	assert.Len(t, topics, 10)
	assert.Contains(t, topics, "budget.register.retry")
	assert.Contains(t, topics, "budget.reply.node-1")
}

func TestConsumer_ProcessRecord(t *testing.T) {
	failing := errors.New("db down")
	handlers := map[string]compensation.Handler{
		TopicConfirmRequest: func(ctx context.Context, msg compensation.Message) error {
			switch string(msg.Value) {
			case "ok":
				return nil
			case "bad":
				return fmt.Errorf("%w: garbage", compensation.ErrMalformed)
			}
			return failing
		},
	}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	newConsumer := func() (*Consumer, *fakeClient) {
		client := &fakeClient{}
		c := NewConsumer(client, handlers, 5*time.Second)
		c.now = func() time.Time { return now }
		return c, client
	}

	t.Run("ack", func(t *testing.T) {
		c, client := newConsumer()
		require.NoError(t, c.processRecord(context.Background(), &kgo.Record{Topic: TopicConfirmRequest, Value: []byte("ok")}))
		assert.Empty(t, client.records())
	})

	t.Run("retry", func(t *testing.T) {
		c, client := newConsumer()
		require.NoError(t, c.processRecord(context.Background(), &kgo.Record{
			Topic:   TopicConfirmRequest,
			Key:     []byte("k"),
			Value:   []byte("fail"),
			Headers: []kgo.RecordHeader{{Key: RetryHeaderAttempt, Value: []byte("2")}},
		}))

		records := client.records()
		require.Len(t, records, 1)
		assert.Equal(t, "budget.confirm.retry", records[0].Topic)
		assert.Equal(t, []byte("k"), records[0].Key)
		assert.Equal(t, "3", headerValue(records[0], RetryHeaderAttempt))

		nextAt, ok := retryNextAt(records[0])
		require.True(t, ok)
		assert.True(t, now.Add(5*time.Second).Equal(nextAt))
	})

	t.Run("dlq", func(t *testing.T) {
		c, client := newConsumer()
		require.NoError(t, c.processRecord(context.Background(), &kgo.Record{Topic: TopicConfirmRequest, Value: []byte("bad")}))

		records := client.records()
		require.Len(t, records, 1)
		assert.Equal(t, "budget.confirm.req.dlq", records[0].Topic)
		assert.Contains(t, headerValue(records[0], ErrorHeaderKey), "malformed")
	})

	t.Run("unknown topic", func(t *testing.T) {
		c, client := newConsumer()
		require.NoError(t, c.processRecord(context.Background(), &kgo.Record{Topic: "other", Value: []byte("fail")}))
		assert.Empty(t, client.records())
	})

	t.Run("retry produce failure", func(t *testing.T) {
		c, client := newConsumer()
		client.err = errors.New("broker down")
		err := c.processRecord(context.Background(), &kgo.Record{Topic: TopicConfirmRequest, Value: []byte("fail")})
		assert.Error(t, err)
	})

	t.Run("dlq produce failure", func(t *testing.T) {
		c, client := newConsumer()
		client.err = errors.New("broker down")
		err := c.processRecord(context.Background(), &kgo.Record{Topic: TopicConfirmRequest, Value: []byte("bad")})
		assert.Error(t, err)
	})
}

func TestConsumer_UnsettledRecordIsNotCommitted(t *testing.T) {
	handler := func(ctx context.Context, msg compensation.Message) error {
		if string(msg.Value) == "ok" {
			return nil
		}
		return errors.New("ledger down")
	}
	ok0 := &kgo.Record{Topic: TopicConfirmRequest, Partition: 0, Offset: 10, LeaderEpoch: 2, Value: []byte("ok")}
	failing := &kgo.Record{Topic: TopicConfirmRequest, Partition: 0, Offset: 11, LeaderEpoch: 2, Value: []byte("fail")}
	after := &kgo.Record{Topic: TopicConfirmRequest, Partition: 0, Offset: 12, LeaderEpoch: 2, Value: []byte("ok")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{
		err:      errors.New("broker down"),
		batches:  []kgo.Fetches{fetchOf(ok0, failing, after)},
		onRewind: cancel,
	}
	c := NewConsumer(client, map[string]compensation.Handler{TopicConfirmRequest: handler}, time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, []*kgo.Record{ok0}, client.commits())
	require.Contains(t, client.rewound, TopicConfirmRequest)
	assert.Equal(t, kgo.EpochOffset{Epoch: 2, Offset: 11}, client.rewound[TopicConfirmRequest][0])
}

func TestConsumer_SettledBatchIsCommitted(t *testing.T) {
	first := &kgo.Record{Topic: TopicConfirmRequest, Partition: 0, Offset: 1, Value: []byte("fail")}
	second := &kgo.Record{Topic: TopicConfirmRequest, Partition: 0, Offset: 2, Value: []byte("fail")}

	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{batches: []kgo.Fetches{fetchOf(first, second)}}
	client.onProduce = func(r *kgo.Record) {
		if len(client.records()) == 2 {
			cancel()
		}
	}
	c := NewConsumer(client, map[string]compensation.Handler{
		TopicConfirmRequest: func(context.Context, compensation.Message) error { return errors.New("ledger down") },
	}, time.Millisecond)

	c.Start(ctx)

	assert.Len(t, client.records(), 2, "both records moved to the retry topic")
	assert.Equal(t, []*kgo.Record{first, second}, client.commits())
	assert.Nil(t, client.rewound)
}

func TestConsumer_RetryRequeueFailureIsNotCommitted(t *testing.T) {
	record := &kgo.Record{Topic: RetryTopic(TopicConfirmRequest), Partition: 3, Offset: 7, Value: []byte("v")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{
		err:      errors.New("broker down"),
		batches:  []kgo.Fetches{fetchOf(record)},
		onRewind: cancel,
	}
	c := NewConsumer(client, nil, time.Millisecond)

	c.StartRetry(ctx)

	assert.Empty(t, client.commits())
	assert.Equal(t, int64(7), client.rewound[RetryTopic(TopicConfirmRequest)][3].Offset)
}

func TestAttemptHeader(t *testing.T) {
	assert.Equal(t, 0, attempt(&kgo.Record{}))
	assert.Equal(t, 0, attempt(&kgo.Record{Headers: []kgo.RecordHeader{{Key: RetryHeaderAttempt, Value: []byte("x")}}}))
	assert.Equal(t, 4, attempt(&kgo.Record{Headers: []kgo.RecordHeader{{Key: RetryHeaderAttempt, Value: []byte("4")}}}))
}

func TestLog_Append(t *testing.T) {
	client := &fakeClient{}
	l := NewLog(client)

	require.NoError(t, l.Append(context.Background(), compensation.Message{Topic: "t", Key: []byte("k"), Value: []byte("v"), Attempt: 2}))
	records := client.records()
	require.Len(t, records, 1)
	assert.Equal(t, "2", headerValue(records[0], RetryHeaderAttempt))

	client.err = errors.New("broker down")
	assert.Error(t, l.Append(context.Background(), compensation.Message{Topic: "t"}))
}

func TestRegisterHandler(t *testing.T) {
	request := func(t *testing.T, amount string) compensation.Message {
		payload, err := json.Marshal(RegisterRequest{
			SchemaVersion: SchemaVersion,
			CorrelationID: "corr-1",
			ReplyTo:       ReplyTopic("node-1"),
			TxID:          "tx-1",
			BudgetID:      key.BudgetID,
			CouponID:      key.CouponID,
			UserID:        key.UserID,
			Amount:        decimal.RequireFromString(amount),
		})
		require.NoError(t, err)
		return compensation.Message{Topic: TopicRegisterRequest, Value: payload}
	}

	t.Run("replies with outcome", func(t *testing.T) {
		replies := &captureLog{}
		handler := RegisterHandler(registrarFunc(func(ctx context.Context, txID string, k domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
			assert.Equal(t, "tx-1", txID)
			assert.Equal(t, key, k)
			return domain.Insufficient()
		}), replies)

		require.NoError(t, handler(context.Background(), request(t, "10.00")))
		require.Len(t, replies.msgs, 1)
		assert.Equal(t, "budget.reply.node-1", replies.msgs[0].Topic)

		var reply RegisterReply
		require.NoError(t, json.Unmarshal(replies.msgs[0].Value, &reply))
		assert.Equal(t, "corr-1", reply.CorrelationID)
		assert.Equal(t, domain.OutcomeInsufficientBudget, reply.Outcome)
		assert.Equal(t, domain.CodeInsufficientBudget, reply.ErrorCode)
	})

	t.Run("invalid amount replies internal", func(t *testing.T) {
		replies := &captureLog{}
		handler := RegisterHandler(registrarFunc(func(ctx context.Context, txID string, k domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
			t.Fatal("registrar must not be called")
			return domain.Registered()
		}), replies)

		require.NoError(t, handler(context.Background(), request(t, "0")))
		var reply RegisterReply
		require.NoError(t, json.Unmarshal(replies.msgs[0].Value, &reply))
		assert.Equal(t, domain.OutcomeInternal, reply.Outcome)
	})

	t.Run("malformed", func(t *testing.T) {
		handler := RegisterHandler(registrarFunc(nil), &captureLog{})
		err := handler(context.Background(), compensation.Message{Value: []byte("{")})
		assert.ErrorIs(t, err, compensation.ErrMalformed)

		err = handler(context.Background(), compensation.Message{Value: []byte(`{"tx_id":"x"}`)})
		assert.ErrorIs(t, err, compensation.ErrMalformed)
	})

	t.Run("reply failure is retried", func(t *testing.T) {
		handler := RegisterHandler(registrarFunc(func(ctx context.Context, txID string, k domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
			return domain.Registered()
		}), &captureLog{err: errors.New("broker down")})
		err := handler(context.Background(), request(t, "1"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, compensation.ErrMalformed)
	})
}

func TestGateway_RequestReply(t *testing.T) {
	client := &fakeClient{}
	gw := NewGateway(client, "node-1")
	replies := &captureLog{}
	handler := RegisterHandler(registrarFunc(func(ctx context.Context, txID string, k domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
		if amount.GreaterThan(decimal.NewFromInt(50)) {
			return domain.Internal(domain.ErrLockContention)
		}
		return domain.Registered()
	}), replies)

	client.onProduce = func(r *kgo.Record) {
		go func() {
			assert.NoError(t, handler(context.Background(), compensation.Message{Topic: r.Topic, Value: r.Value}))
			gw.HandleResponse(replies.msgs[len(replies.msgs)-1].Value)
		}()
	}

	res := gw.RegisterUsage(context.Background(), "tx-1", key, decimal.NewFromInt(10))
	assert.True(t, res.Success())

	records := client.records()
	require.Len(t, records, 1)
	assert.Equal(t, TopicRegisterRequest, records[0].Topic)
	assert.Equal(t, []byte(key.String()), records[0].Key)

	res = gw.RegisterUsage(context.Background(), "tx-2", key, decimal.NewFromInt(80))
	assert.Equal(t, domain.OutcomeInternal, res.Outcome)
	assert.ErrorIs(t, res.Error(), domain.ErrLockContention)
}

func TestGateway_Timeout(t *testing.T) {
	gw := NewGateway(&fakeClient{}, "node-1")
	gw.timeout = 20 * time.Millisecond

	res := gw.RegisterUsage(context.Background(), "tx-1", key, decimal.NewFromInt(10))
	assert.Equal(t, domain.OutcomeInternal, res.Outcome)
	assert.ErrorIs(t, res.Err, errReplyTimeout)
}

func TestGateway_ProduceFailure(t *testing.T) {
	gw := NewGateway(&fakeClient{err: errors.New("broker down")}, "node-1")

	res := gw.RegisterUsage(context.Background(), "tx-1", key, decimal.NewFromInt(10))
	assert.Equal(t, domain.OutcomeInternal, res.Outcome)
	assert.ErrorIs(t, res.Error(), domain.ErrInternal)
}

func TestGateway_StrayReplyIgnored(t *testing.T) {
	gw := NewGateway(&fakeClient{}, "node-1")
	gw.HandleResponse([]byte(`{"correlation_id":"nobody","outcome":"NONE"}`))
	gw.HandleResponse([]byte(`not json`))
}

func TestDirectGateway(t *testing.T) {
	gw := NewDirectGateway(registrarFunc(func(ctx context.Context, txID string, k domain.UsageKey, amount decimal.Decimal) domain.RegistrationResult {
		return domain.AlreadyReserved()
	}))
	res := gw.RegisterUsage(context.Background(), "tx-1", key, decimal.NewFromInt(1))
	assert.Equal(t, domain.OutcomeAlreadyReserved, res.Outcome)
}
