package compensation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMalformed marks a message that can never be processed. Consumers ack it
// and move it to the dead-letter destination instead of redelivering.
var ErrMalformed = errors.New("malformed message")

type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Attempt int
}

// Log is an append-only, at-least-once message log.
type Log interface {
	Append(ctx context.Context, msg Message) error
}

// Handler processes one message. A nil return acks it; any other error asks
// for redelivery unless it wraps ErrMalformed.
type Handler func(ctx context.Context, msg Message) error

// MemoryLog is an in-process Log used when the broker is disabled and in
// tests. Failed messages are redelivered after RedeliverAfter.
type MemoryLog struct {
	RedeliverAfter time.Duration
	// MaxAttempts dead-letters a message after that many failed deliveries.
	// Zero redelivers forever.
	MaxAttempts int

	mu       sync.Mutex
	queues   map[string][]Message
	signals  map[string]chan struct{}
	inFlight int
	acked    []Message
	dead     []Message
}

func NewMemoryLog(redeliverAfter time.Duration) *MemoryLog {
	return &MemoryLog{
		RedeliverAfter: redeliverAfter,
		queues:         make(map[string][]Message),
		signals:        make(map[string]chan struct{}),
	}
}

func (l *MemoryLog) Append(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.inFlight++
	l.enqueueLocked(msg)
	l.mu.Unlock()
	return nil
}

// Run delivers messages on topic to handler until ctx ends.
func (l *MemoryLog) Run(ctx context.Context, topic string, handler Handler) error {
	l.mu.Lock()
	signal := l.signalLocked(topic)
	l.mu.Unlock()

	for {
		msg, ok := l.pop(topic)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-signal:
			}
			continue
		}
		l.dispatch(ctx, msg, handler)
	}
}

func (l *MemoryLog) dispatch(ctx context.Context, msg Message, handler Handler) {
	err := handler(ctx, msg)
	if err == nil {
		l.settle(msg, false)
		return
	}

	msg.Attempt++
	if errors.Is(err, ErrMalformed) || (l.MaxAttempts > 0 && msg.Attempt >= l.MaxAttempts) {
		log.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Int("attempt", msg.Attempt).Msg("message dead-lettered")
		l.settle(msg, true)
		return
	}

	log.Ctx(ctx).Warn().Err(err).Str("topic", msg.Topic).Int("attempt", msg.Attempt).Msg("message will be redelivered")
	time.AfterFunc(l.RedeliverAfter, func() {
		l.mu.Lock()
		l.enqueueLocked(msg)
		l.mu.Unlock()
	})
}

func (l *MemoryLog) settle(msg Message, dead bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
	if dead {
		l.dead = append(l.dead, msg)
		return
	}
	l.acked = append(l.acked, msg)
}

func (l *MemoryLog) pop(topic string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.queues[topic]
	if len(queue) == 0 {
		return Message{}, false
	}
	msg := queue[0]
	l.queues[topic] = queue[1:]
	return msg, true
}

func (l *MemoryLog) enqueueLocked(msg Message) {
	l.queues[msg.Topic] = append(l.queues[msg.Topic], msg)
	select {
	case l.signalLocked(msg.Topic) <- struct{}{}:
	default:
	}
}

func (l *MemoryLog) signalLocked(topic string) chan struct{} {
	ch, ok := l.signals[topic]
	if !ok {
		ch = make(chan struct{}, 1)
		l.signals[topic] = ch
	}
	return ch
}

// Pending counts messages appended but not yet acked or dead-lettered.
func (l *MemoryLog) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

func (l *MemoryLog) Acked() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.acked...)
}

func (l *MemoryLog) DeadLetters() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.dead...)
}
