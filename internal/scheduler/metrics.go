package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCycles counts completed poll cycles.
	PollCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "scheduler",
			Name:      "poll_cycles_total",
			Help:      "Total number of poll cycles run",
		},
	)

	// ItemsSeen counts new items returned by polling.
	ItemsSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "scheduler",
			Name:      "items_seen_total",
			Help:      "Total number of new items seen by the poll loop",
		},
	)

	// AdviceGenerated counts advice added to the pending ledger.
	AdviceGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "scheduler",
			Name:      "advice_generated_total",
			Help:      "Total number of advice drafts added to the pending ledger",
		},
	)

	// AdviceSkipped counts items that got no advice.
	// Labels: reason (disabled, marker, failed)
	AdviceSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "scheduler",
			Name:      "advice_skipped_total",
			Help:      "Total number of new items skipped by reason",
		},
		[]string{"reason"},
	)

	// LoopErrors counts failed or panicked loop iterations.
	// Labels: loop (resync, poll)
	LoopErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "scheduler",
			Name:      "loop_errors_total",
			Help:      "Total number of failed loop iterations by loop",
		},
		[]string{"loop"},
	)

	// CheckpointTimestamp is the persisted poll cutoff as unix seconds.
	CheckpointTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remindmine",
			Subsystem: "scheduler",
			Name:      "checkpoint_timestamp_seconds",
			Help:      "Poll checkpoint as a unix timestamp",
		},
	)
)
