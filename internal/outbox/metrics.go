package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DLQ outcomes recorded by the manager.
const (
	dlqRequeued       = "requeued"
	dlqRetryScheduled = "retry_scheduled"
	dlqQuarantined    = "quarantined"
)

// Event labels follow the conduct event catalog: event_type is the broadcast
// kind and aggregate is "participant" or "conduct".
var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wbgt",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Conduct events published to the broadcast topic.",
	}, []string{"event_type", "aggregate"})

	deadLetteredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wbgt",
		Subsystem: "outbox",
		Name:      "events_dead_lettered_total",
		Help:      "Conduct events the dispatcher could not publish and moved to the dead-letter queue.",
	}, []string{"event_type", "aggregate"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wbgt",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing and marking one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wbgt",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "Dead-letter entries handled by the retry manager, by outcome.",
	}, []string{"outcome", "event_type", "aggregate"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wbgt",
		Subsystem: "dlq",
		Name:      "backlog",
		Help:      "Dead-letter entries still waiting for replay.",
	}, []string{"aggregate"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, deadLetteredCounter, batchDuration, dlqOutcomeCounter, dlqBacklogGauge)
}

func recordDelivered(msg Message) {
	deliveredCounter.WithLabelValues(msg.EventType, msg.AggregateType).Inc()
}

func recordDeadLettered(msg Message) {
	deadLetteredCounter.WithLabelValues(msg.EventType, msg.AggregateType).Inc()
}

func recordDLQOutcome(outcome string, entry dlqEntry) {
	dlqOutcomeCounter.WithLabelValues(outcome, entry.EventType, entry.AggregateType).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `SELECT aggregate_type, COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL GROUP BY aggregate_type`)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := map[string]float64{"participant": 0, "conduct": 0}
	for rows.Next() {
		var (
			aggregate string
			count     int
		)
		if err := rows.Scan(&aggregate, &count); err != nil {
			return
		}
		counts[aggregate] = float64(count)
	}
	if rows.Err() != nil {
		return
	}
	for aggregate, count := range counts {
		dlqBacklogGauge.WithLabelValues(aggregate).Set(count)
	}
}
