package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Peer Discovery Metrics
	PeersDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "peers_discovered_total",
			Help:      "Total number of peers discovered, labeled by discovery source.",
		},
		[]string{"source"}, // mdns, dht, bootstrap
	)

	PeersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "known_peers_count",
			Help:      "Current number of peers known to the gossip transport.",
		},
	)

	PeersLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "peers_lost_total",
			Help:      "Total number of peers that disconnected or expired.",
		},
	)

	// Gossip Protocol Metrics
	BlocksPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "blocks_published_total",
			Help:      "Total number of blocks handed to the gossip topic, labeled by result.",
		},
		[]string{"result"}, // ok, error
	)

	BlocksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "blocks_received_total",
			Help:      "Total number of blocks received from peers, labeled by merge outcome.",
		},
		[]string{"outcome"}, // promoted, stale, parked, invalid_work
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "decode_errors_total",
			Help:      "Total number of inbound payloads that failed to decode as a block.",
		},
	)

	PollsWithoutBlock = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "polls_without_block_total",
			Help:      "Total number of event polls that returned no block, either on timeout or after a peer event.",
		},
	)

	QueueDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powgossip",
			Subsystem: "p2p",
			Name:      "queue_drops_total",
			Help:      "Total number of blocks that could not be queued for publishing.",
		},
		[]string{"queue"}, // publish, announce
	)
)
