package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"powgossip_go/blockchain"
	"powgossip_go/utils"
)

// localSettle is how long a LocalEndpoint services peer events after a send.
const localSettle = 50 * time.Millisecond

// inboundCapacity bounds each endpoint's undelivered payloads. Further
// deliveries are dropped, as gossip would under backpressure.
const inboundCapacity = 256

// LocalHub connects LocalEndpoints in the same process. Every payload
// published on a topic reaches every other endpoint subscribed to it.
type LocalHub struct {
	mu        sync.RWMutex
	endpoints map[string]*LocalEndpoint
}

// NewLocalHub creates an empty hub.
func NewLocalHub() *LocalHub {
	return &LocalHub{endpoints: make(map[string]*LocalEndpoint)}
}

// Join attaches a new endpoint to the hub and tells every endpoint already
// present about it.
func (h *LocalHub) Join() *LocalEndpoint {
	ep := &LocalEndpoint{
		id:         uuid.NewString(),
		hub:        h,
		topics:     make(map[string]bool),
		peers:      make(map[string]bool),
		inbound:    make(chan []byte, inboundCapacity),
		peerEvents: make(chan peerEvent, inboundCapacity),
		closed:     make(chan struct{}),
	}

	h.mu.Lock()
	for _, other := range h.endpoints {
		other.notify(peerEvent{kind: peerFound, peer: ep.id})
		ep.notify(peerEvent{kind: peerFound, peer: other.id})
	}
	h.endpoints[ep.id] = ep
	h.mu.Unlock()

	return ep
}

func (h *LocalHub) leave(ep *LocalEndpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, ep.id)
	for _, other := range h.endpoints {
		other.notify(peerEvent{kind: peerLost, peer: ep.id})
	}
}

func (h *LocalHub) broadcast(from *LocalEndpoint, topic string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, ep := range h.endpoints {
		if id == from.id || !ep.subscribed(topic) {
			continue
		}
		if ep.deliver(payload) {
			delivered++
		}
	}
	return delivered
}

type peerEvent struct {
	kind peerEventKind
	peer string
}

// LocalEndpoint is one participant on a LocalHub.
type LocalEndpoint struct {
	id  string
	hub *LocalHub

	mu       sync.RWMutex
	topics   map[string]bool
	peers    map[string]bool
	outgoing string

	inbound    chan []byte
	peerEvents chan peerEvent

	closeOnce sync.Once
	closed    chan struct{}
}

var _ GossipNetwork = (*LocalEndpoint)(nil)

// ID returns the endpoint's random identifier.
func (e *LocalEndpoint) ID() string { return e.id }

// Subscribe starts receiving payloads published on topic.
func (e *LocalEndpoint) Subscribe(topic string) error {
	if e.isClosed() {
		return ErrNetworkClosed
	}
	e.mu.Lock()
	e.topics[topic] = true
	e.mu.Unlock()
	return nil
}

// Publish chooses the outgoing topic. It must have been subscribed first.
func (e *LocalEndpoint) Publish(topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.topics[topic] {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}
	e.outgoing = topic
	return nil
}

// Send publishes the next block from queue to every other subscriber.
func (e *LocalEndpoint) Send(ctx context.Context, queue <-chan blockchain.Block) error {
	b, err := dequeue(ctx, queue)
	if err != nil {
		return err
	}

	payload, err := blockchain.EncodeBlock(b)
	if err != nil {
		return err
	}
	if err := e.PublishRaw(payload); err != nil {
		return err
	}

	e.settle(ctx, localSettle)
	return nil
}

// PublishRaw broadcasts payload as-is on the outgoing topic.
func (e *LocalEndpoint) PublishRaw(payload []byte) error {
	if e.isClosed() {
		return ErrNetworkClosed
	}
	e.mu.RLock()
	topic := e.outgoing
	e.mu.RUnlock()
	if topic == "" {
		return ErrNoPublishTopic
	}

	n := e.hub.broadcast(e, topic, payload)
	utils.LogDebug("Endpoint %s delivered %d bytes to %d peers", shortID(e.id), len(payload), n)
	return nil
}

// PollEvents waits up to timeout for a payload or a peer event.
func (e *LocalEndpoint) PollEvents(ctx context.Context, timeout time.Duration) (*blockchain.Block, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-e.inbound:
		b, err := blockchain.DecodeBlock(payload)
		if err != nil {
			return nil, err
		}
		return &b, nil
	case ev := <-e.peerEvents:
		e.applyPeerEvent(ev)
		return nil, nil
	case <-timer.C:
		return nil, nil
	case <-e.closed:
		return nil, ErrNetworkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PeerCount returns the number of peers this endpoint has learned about.
func (e *LocalEndpoint) PeerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.peers)
}

// Close detaches the endpoint from its hub.
func (e *LocalEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.hub.leave(e)
	})
	return nil
}

func (e *LocalEndpoint) settle(ctx context.Context, d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		select {
		case ev := <-e.peerEvents:
			e.applyPeerEvent(ev)
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *LocalEndpoint) applyPeerEvent(ev peerEvent) {
	e.mu.Lock()
	if ev.kind == peerFound {
		e.peers[ev.peer] = true
	} else {
		delete(e.peers, ev.peer)
	}
	count := len(e.peers)
	e.mu.Unlock()

	PeersGauge.Set(float64(count))
	utils.LogDebug("Endpoint %s: peer %s %s", shortID(e.id), shortID(ev.peer), ev.kind)
}

func (e *LocalEndpoint) subscribed(topic string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topics[topic]
}

func (e *LocalEndpoint) deliver(payload []byte) bool {
	if e.isClosed() {
		return false
	}
	cp := append([]byte(nil), payload...)
	select {
	case e.inbound <- cp:
		return true
	default:
		utils.LogWarn("Endpoint %s inbound queue full, dropping payload", shortID(e.id))
		return false
	}
}

func (e *LocalEndpoint) notify(ev peerEvent) {
	select {
	case e.peerEvents <- ev:
	default:
	}
}

func (e *LocalEndpoint) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
