package miner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HashesAttempted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "miner",
			Name:      "hashes_attempted_total",
			Help:      "Total number of nonces hashed by the proof-of-work search.",
		},
	)

	BlocksMined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "miner",
			Name:      "blocks_mined_total",
			Help:      "Total number of candidates found, labeled by what the merge policy did with them.",
		},
		[]string{"outcome"}, // promoted, stale
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "powgossip",
			Subsystem: "miner",
			Name:      "search_duration_seconds",
			Help:      "Time spent finding a valid nonce.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		},
	)
)
