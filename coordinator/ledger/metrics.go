package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_ledger_entries_total",
		Help: "Count of ledger entries appended, by payload type.",
	}, []string{"payload_type"})
	checkpointsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarm_ledger_checkpoints_published_total",
		Help: "Count of checkpoints published by this coordinator.",
	})
	anchorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarm_ledger_anchor_failures_total",
		Help: "Count of failed checkpoint anchor broadcasts.",
	})
)
