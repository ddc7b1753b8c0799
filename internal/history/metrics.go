package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimpricer_history_entries_written_total",
		Help: "Pricing history entries persisted.",
	})
	entriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimpricer_history_entries_dropped_total",
		Help: "Pricing history entries discarded because the queue was full.",
	})
	batchWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimpricer_history_batch_write_errors_total",
		Help: "History batches the store rejected.",
	})
	partialWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimpricer_history_partial_write_failures_total",
		Help: "MongoDB history batches where only some entries were inserted.",
	})
)
