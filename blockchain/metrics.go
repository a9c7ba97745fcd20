package blockchain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TipIndexGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powgossip",
			Subsystem: "chain",
			Name:      "tip_index",
			Help:      "Index of the current chain tip.",
		},
	)

	BlocksConnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "chain",
			Name:      "blocks_connected_total",
			Help:      "Total number of blocks that became the chain tip.",
		},
	)

	BlocksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "chain",
			Name:      "blocks_rejected_total",
			Help:      "Total number of blocks not promoted, labeled by reason.",
		},
		[]string{"reason"}, // stale, evicted, invalid_work
	)

	PendingBlocksGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powgossip",
			Subsystem: "chain",
			Name:      "pending_blocks",
			Help:      "Out-of-order blocks waiting for their parent index.",
		},
	)

	ChainResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "chain",
			Name:      "resyncs_total",
			Help:      "Times a history-retaining chain jumped over a gap it could not close.",
		},
	)

	SubscriberDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "chain",
			Name:      "subscriber_drops_total",
			Help:      "Promotion notifications dropped because a subscriber was not keeping up.",
		},
	)
)
