// Package observability holds the engine's Prometheus instruments.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wbgt"

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Committed participant transitions by audit action.",
	}, []string{"action"})

	lastTransitionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "last_transition_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed transition.",
	})

	fallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "fallback_commits_total",
		Help:      "Transitions whose combined commit failed, by fallback outcome.",
	}, []string{"outcome"})

	sweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "pass_duration_seconds",
		Help:      "Time spent in one sweep pass.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"sweep"})

	sweepErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "row_errors_total",
		Help:      "Rows skipped in a sweep pass because of an error.",
	}, []string{"sweep"})

	deactivationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "conducts_deactivated_total",
		Help:      "Conducts moved to inactive after the inactivity threshold.",
	})

	subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "subscribers",
		Help:      "Open broadcast subscriptions across all conducts.",
	})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "envelopes_dropped_total",
		Help:      "Envelopes dropped because a subscriber's buffer was full.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(
		transitionCounter,
		lastTransitionGauge,
		fallbackCounter,
		sweepDuration,
		sweepErrorCounter,
		deactivationCounter,
		subscriberGauge,
		droppedCounter,
	)
}

// RecordTransition counts a committed transition and moves the watermark.
func RecordTransition(action string, ts time.Time) {
	transitionCounter.WithLabelValues(action).Inc()
	if ts.IsZero() {
		return
	}
	lastTransitionGauge.Set(float64(ts.Unix()))
}

// RecordFallback counts a fallback commit by outcome ("split", "state_only",
// "audit_only" or "failed").
func RecordFallback(outcome string) {
	fallbackCounter.WithLabelValues(outcome).Inc()
}

// ObserveSweep records the duration of a sweep pass.
func ObserveSweep(sweep string, d time.Duration) {
	sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

// RecordSweepError counts a row skipped by a sweep.
func RecordSweepError(sweep string) {
	sweepErrorCounter.WithLabelValues(sweep).Inc()
}

// RecordDeactivation counts a conduct going inactive.
func RecordDeactivation() {
	deactivationCounter.Inc()
}

// AddSubscribers moves the subscriber gauge by delta.
func AddSubscribers(delta int) {
	subscriberGauge.Add(float64(delta))
}

// RecordDropped counts an envelope a slow subscriber missed.
func RecordDropped(eventType string) {
	droppedCounter.WithLabelValues(eventType).Inc()
}

// TransitionCounter exposes the transition counter for assertions in tests.
func TransitionCounter() *prometheus.CounterVec {
	return transitionCounter
}

// FallbackCounter exposes the fallback counter for assertions in tests.
func FallbackCounter() *prometheus.CounterVec {
	return fallbackCounter
}

// DroppedCounter exposes the broadcast drop counter for assertions in tests.
func DroppedCounter() *prometheus.CounterVec {
	return droppedCounter
}

// SweepErrorCounter exposes the sweep row error counter for assertions in tests.
func SweepErrorCounter() *prometheus.CounterVec {
	return sweepErrorCounter
}
