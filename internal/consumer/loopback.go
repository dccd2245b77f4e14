package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Loopback stands in for the Kafka producer when the service runs without a
// broker: records the dispatcher writes are decoded and handed straight to a
// Handler, with the same framing and per-topic offsets a reader would see.
type Loopback struct {
	handler Handler
	now     func() time.Time

	mu      sync.Mutex
	offsets map[string]int64
}

// NewLoopback constructs a Loopback delivering to handler.
func NewLoopback(handler Handler) *Loopback {
	return &Loopback{
		handler: handler,
		now:     time.Now,
		offsets: make(map[string]int64),
	}
}

// WriteMessages implements the dispatcher's writer. Every record is handled
// in order. Failures come back as kafka.WriteErrors indexed like msgs, the
// shape kafka.Writer reports partial failures in.
func (l *Loopback) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	errs := make(kafka.WriteErrors, len(msgs))
	failed := false
	for i, msg := range msgs {
		msg.Topic = topic
		msg.Offset = l.offsets[topic]
		l.offsets[topic]++
		if msg.Time.IsZero() {
			msg.Time = l.now()
		}

		decoded, err := DecodeMessage(msg)
		if err != nil {
			recordDecodeError(topic)
			errs[i], failed = err, true
			continue
		}
		if err := l.handler.Handle(ctx, decoded); err != nil {
			recordHandlerError(decoded)
			errs[i], failed = err, true
			continue
		}
		recordProcessed(decoded)
	}
	if !failed {
		return nil
	}
	return errs
}
