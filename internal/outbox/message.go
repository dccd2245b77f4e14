package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/wbgt/internal/domain"
	"example.com/wbgt/internal/events"
)

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	ConductID     string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Source hands pending outbox rows to the dispatcher.
type Source interface {
	// Claim returns up to limit unpublished messages in enqueue order and
	// hides them from concurrent claimers.
	Claim(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64) error
	DeadLetter(ctx context.Context, msg Message, reason string) error
}

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	AggregateType string
	Schema        string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeParticipantUpdated:   {AggregateType: "participant", Schema: participantUpdatedSchema},
	events.TypeParticipantRemoved:   {AggregateType: "participant", Schema: participantRemovedSchema},
	events.TypeSystemStatusUpdated:  {AggregateType: "conduct", Schema: systemStatusUpdatedSchema},
	events.TypeHistoryUpdated:       {AggregateType: "conduct", Schema: historyUpdatedSchema},
	events.TypeWorkCycleCompleted:   {AggregateType: "participant", Schema: workCycleCompletedSchema},
	events.TypeRestCycleCompleted:   {AggregateType: "participant", Schema: restCycleCompletedSchema},
	events.TypeConductStatusChanged: {AggregateType: "conduct", Schema: conductStatusChangedSchema},
}

// Router turns domain events into outbox rows bound for the broadcast topic.
// Every row is keyed by conduct id so a conduct's events stay in order.
type Router struct {
	Topic string
}

// Route builds the outbox row for evt.
func (r Router) Route(evt domain.Event) (Message, error) {
	meta, ok := schemaCatalog[evt.Type]
	if !ok {
		return Message{}, fmt.Errorf("unknown event type: %s", evt.Type)
	}
	body, err := json.Marshal(evt.Payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ConductID:     evt.ConductID,
		AggregateType: meta.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.Type,
		Topic:         r.Topic,
		SchemaSubject: SchemaSubject(r.Topic, evt.Type),
		PartitionKey:  evt.ConductID,
		Payload:       body,
	}, nil
}

// RouteAll routes every event, stopping at the first failure.
func (r Router) RouteAll(evts ...domain.Event) ([]Message, error) {
	out := make([]Message, 0, len(evts))
	for _, evt := range evts {
		msg, err := r.Route(evt)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// SchemaSubject names the registry subject for an event type on topic.
func SchemaSubject(topic, eventType string) string {
	return fmt.Sprintf("%s-%s", topic, eventType)
}
