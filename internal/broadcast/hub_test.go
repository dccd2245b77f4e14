package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/wbgt/internal/observability"
)

func quietHub(opts ...Option) *Hub {
	return NewHub(append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)...)
}

func envelope(conductID, eventType string) Envelope {
	return Envelope{ConductID: conductID, EventType: eventType, Payload: json.RawMessage(`{}`)}
}

func TestPublishReachesOnlyConductSubscribers(t *testing.T) {
	hub := quietHub()
	a := hub.Subscribe("c-1")
	defer a.Close()
	b := hub.Subscribe("c-2")
	defer b.Close()

	require.Equal(t, 1, hub.Publish(envelope("c-1", "participant.updated")))

	got := <-a.Events
	require.Equal(t, "participant.updated", got.EventType)
	require.Empty(t, b.Events)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	require.Zero(t, quietHub().Publish(envelope("nobody", "history.updated")))
}

func TestFullSubscriberDropsOldest(t *testing.T) {
	hub := quietHub(WithSubscriberCapacity(2))
	sub := hub.Subscribe("c-1")
	defer sub.Close()

	before := testutil.ToFloat64(observability.DroppedCounter().WithLabelValues("first"))
	hub.Publish(envelope("c-1", "first"))
	hub.Publish(envelope("c-1", "second"))
	require.Zero(t, hub.Publish(envelope("c-1", "third")))

	require.Equal(t, "second", (<-sub.Events).EventType)
	require.Equal(t, "third", (<-sub.Events).EventType)
	require.InDelta(t, before+1, testutil.ToFloat64(observability.DroppedCounter().WithLabelValues("first")), 0.0001)
}

func TestCloseUnsubscribesAndClosesChannel(t *testing.T) {
	hub := quietHub()
	sub := hub.Subscribe("c-1")
	require.Equal(t, 1, hub.Subscribers("c-1"))

	sub.Close()
	sub.Close()
	require.Zero(t, hub.Subscribers("c-1"))

	_, open := <-sub.Events
	require.False(t, open)
	require.Zero(t, hub.Publish(envelope("c-1", "late")))
}

func TestConcurrentPublishAndClose(t *testing.T) {
	hub := quietHub(WithSubscriberCapacity(1))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := hub.Subscribe("c-1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(envelope("c-1", "participant.updated"))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	require.Zero(t, hub.Subscribers("c-1"))
}
