package consumer

import (
	"context"

	"example.com/wbgt/internal/broadcast"
)

// Publisher fans envelopes out to subscribers.
type Publisher interface {
	Publish(broadcast.Envelope) int
}

// BroadcastHandler relays decoded records to live subscribers of the conduct.
type BroadcastHandler struct {
	publisher Publisher
}

// NewBroadcastHandler constructs a BroadcastHandler.
func NewBroadcastHandler(publisher Publisher) *BroadcastHandler {
	return &BroadcastHandler{publisher: publisher}
}

// Handle implements Handler. Delivery is best effort and never fails.
func (h *BroadcastHandler) Handle(_ context.Context, msg Message) error {
	h.publisher.Publish(broadcast.Envelope{
		ConductID: msg.ConductID,
		EventType: msg.EventType,
		Payload:   msg.Payload,
		At:        msg.Timestamp,
	})
	return nil
}
