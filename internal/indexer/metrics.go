package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksAdded counts chunks written to the vector store.
	ChunksAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "indexer",
			Name:      "chunks_added_total",
			Help:      "Total number of chunks embedded and stored",
		},
	)

	// ItemsSkipped counts items whose fingerprint was unchanged.
	ItemsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "indexer",
			Name:      "items_skipped_total",
			Help:      "Total number of unchanged items skipped during reindex",
		},
	)

	// ItemsDeleted counts items removed because they vanished upstream.
	ItemsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "indexer",
			Name:      "items_deleted_total",
			Help:      "Total number of items removed from the index",
		},
	)

	// FullRebuilds counts collection rebuilds.
	// Labels: reason (forced, model_changed, collection_mismatch)
	FullRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "indexer",
			Name:      "full_rebuilds_total",
			Help:      "Total number of full collection rebuilds by reason",
		},
		[]string{"reason"},
	)

	// ReindexDuration tracks how long a reindex call takes.
	ReindexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remindmine",
			Subsystem: "indexer",
			Name:      "reindex_duration_seconds",
			Help:      "Duration of reindex calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// ReindexErrors counts aborted reindex calls.
	// Labels: stage (state, collection, chunk, embed, store)
	ReindexErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remindmine",
			Subsystem: "indexer",
			Name:      "reindex_errors_total",
			Help:      "Total number of aborted reindex calls by stage",
		},
		[]string{"stage"},
	)
)
