// Package outbox persists and delivers conduct broadcast events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer publishes framed records to a topic.
type Writer interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Header keys set on every delivered record.
const (
	HeaderEventType     = "event_type"
	HeaderConductID     = "conduct_id"
	HeaderSchemaSubject = "schema_subject"
)

// Option configures optional behaviour for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithSchemaRegistry resolves schema ids through registry. Without one every
// record is framed with schema id 0.
func WithSchemaRegistry(registry schemaRegistrar) Option {
	return func(d *Dispatcher) {
		d.registry = registry
	}
}

// Dispatcher drains the outbox and delivers events to Kafka.
type Dispatcher struct {
	source           Source
	producer         Writer
	registry         schemaRegistrar
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(source Source, producer Writer, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:           source,
		producer:         producer,
		logger:           slog.Default(),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox dispatcher error", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

// ProcessBatch claims and delivers one batch. Records that cannot be published
// are moved to the dead-letter queue individually; their batch siblings are
// still delivered. Nothing is retried inline.
func (d *Dispatcher) ProcessBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.source.Claim(ctx, d.batchSize)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	failures := d.deliver(ctx, messages)
	if len(failures) > 0 {
		d.logger.Warn("outbox delivery failure",
			slog.Int("batch", len(messages)),
			slog.Int("failed", len(failures)),
			slog.Any("error", failures[0].err),
		)
		if err := d.moveToDLQ(ctx, failures); err != nil {
			return err
		}
	}
	return d.source.MarkPublished(ctx, eventIDs(messages))
}

// deliveryFailure is one record the writer or schema lookup rejected.
type deliveryFailure struct {
	msg Message
	err error
}

type framedRecord struct {
	msg    Message
	record kafka.Message
}

func (d *Dispatcher) deliver(ctx context.Context, messages []Message) []deliveryFailure {
	var failures []deliveryFailure
	batches := make(map[string][]framedRecord)
	order := make([]string, 0, 1)

	for _, msg := range messages {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			failures = append(failures, deliveryFailure{msg: msg, err: err})
			continue
		}

		record := kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: HeaderEventType, Value: []byte(msg.EventType)},
				{Key: HeaderConductID, Value: []byte(msg.ConductID)},
				{Key: HeaderSchemaSubject, Value: []byte(msg.SchemaSubject)},
			},
		}

		if _, exists := batches[msg.Topic]; !exists {
			order = append(order, msg.Topic)
		}
		batches[msg.Topic] = append(batches[msg.Topic], framedRecord{msg: msg, record: record})
	}

	for _, topic := range order {
		failures = append(failures, d.write(ctx, topic, batches[topic])...)
	}
	return failures
}

// write publishes batch in one call. kafka.WriteErrors pins failures to their
// records; any other error is ambiguous, so the batch is replayed one record
// at a time in order.
func (d *Dispatcher) write(ctx context.Context, topic string, batch []framedRecord) []deliveryFailure {
	records := make([]kafka.Message, len(batch))
	for i, fr := range batch {
		records[i] = fr.record
	}

	err := d.producer.WriteMessages(ctx, topic, records...)
	if err == nil {
		for _, fr := range batch {
			recordDelivered(fr.msg)
		}
		return nil
	}

	var failures []deliveryFailure
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) && len(writeErrs) == len(batch) {
		for i, fr := range batch {
			if writeErrs[i] != nil {
				failures = append(failures, deliveryFailure{msg: fr.msg, err: writeErrs[i]})
				continue
			}
			recordDelivered(fr.msg)
		}
		return failures
	}
	if len(batch) == 1 {
		return []deliveryFailure{{msg: batch[0].msg, err: err}}
	}

	for _, fr := range batch {
		if err := d.producer.WriteMessages(ctx, topic, fr.record); err != nil {
			failures = append(failures, deliveryFailure{msg: fr.msg, err: err})
			continue
		}
		recordDelivered(fr.msg)
	}
	return failures
}

// WarmSchemas resolves the schema id of every conduct event type on topic so
// registry problems surface at startup instead of on the first delivery.
func (d *Dispatcher) WarmSchemas(ctx context.Context, topic string) error {
	if d.registry == nil {
		return nil
	}
	var errs []error
	for eventType := range schemaCatalog {
		msg := Message{EventType: eventType, Topic: topic, SchemaSubject: SchemaSubject(topic, eventType)}
		if _, err := d.schemaID(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", msg.SchemaSubject, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	if d.registry == nil {
		return 0, nil
	}

	cacheKey := fmt.Sprintf("%s::%s", msg.SchemaSubject, meta.Schema)
	if cached, found := d.schemaIDCache.Load(cacheKey); found {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, failures []deliveryFailure) error {
	for _, f := range failures {
		reason := fmt.Sprintf("%s (topic=%s)", f.err, f.msg.Topic)
		if err := d.source.DeadLetter(ctx, f.msg, reason); err != nil {
			return err
		}
		recordDeadLettered(f.msg)
	}
	return nil
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	return ids
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
