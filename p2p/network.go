package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	"powgossip_go/blockchain"
)

// ConsensusTopic is the gossip topic blocks are exchanged on.
const ConsensusTopic = "consensus-block"

// DefaultPollTimeout bounds each wait for an inbound event. A timeout is
// reported as "no event", never as an error.
const DefaultPollTimeout = 5 * time.Second

// QueueCapacity is the size of each hand-off queue between deciding on a
// block and publishing it.
const QueueCapacity = 32

var (
	// ErrNotSubscribed is returned when a topic is used before Subscribe.
	ErrNotSubscribed = errors.New("not subscribed to topic")
	// ErrNoPublishTopic is returned by Send before Publish chose a topic.
	ErrNoPublishTopic = errors.New("no publishing topic set")
	// ErrQueueClosed is returned by Send when its queue is closed.
	ErrQueueClosed = errors.New("block queue closed")
	// ErrQueueFull is returned when a block cannot be enqueued for publishing.
	ErrQueueFull = errors.New("block queue full")
	// ErrNetworkClosed is returned by calls made after Close.
	ErrNetworkClosed = errors.New("network closed")
)

// GossipNetwork is the broadcast transport the relay runs on.
type GossipNetwork interface {
	// Subscribe joins topic and starts receiving its messages.
	Subscribe(topic string) error
	// Publish designates a subscribed topic as the outgoing channel.
	Publish(topic string) error
	// Send takes one block from queue and publishes it on the outgoing topic,
	// then services pending peer events for a short bounded period.
	Send(ctx context.Context, queue <-chan blockchain.Block) error
	// PollEvents waits up to timeout for the next inbound event. It returns a
	// block, nil for a timeout or a consumed peer event, or an error for a
	// transport or decode failure.
	PollEvents(ctx context.Context, timeout time.Duration) (*blockchain.Block, error)
	// PeerCount is the number of currently known peers.
	PeerCount() int
	// ID identifies this endpoint on the network.
	ID() string
	// Close releases the transport.
	Close() error
}

// enqueue hands b to queue without blocking.
func enqueue(queue chan<- blockchain.Block, b blockchain.Block) error {
	select {
	case queue <- b:
		return nil
	default:
		return fmt.Errorf("%w: block %d dropped", ErrQueueFull, b.Index)
	}
}

// dequeue waits for the next block on queue.
func dequeue(ctx context.Context, queue <-chan blockchain.Block) (blockchain.Block, error) {
	select {
	case b, ok := <-queue:
		if !ok {
			return blockchain.Block{}, ErrQueueClosed
		}
		return b, nil
	case <-ctx.Done():
		return blockchain.Block{}, ctx.Err()
	}
}

// peerEventKind tells a discovery from a loss.
type peerEventKind int

const (
	peerFound peerEventKind = iota
	peerLost
)

func (k peerEventKind) String() string {
	if k == peerFound {
		return "found"
	}
	return "lost"
}
