package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/multiformats/go-multiaddr"

	"powgossip_go/blockchain"
	"powgossip_go/utils"
)

const (
	// DefaultListenAddr is where the swarm accepts connections.
	DefaultListenAddr = "/ip4/0.0.0.0/tcp/42070"
	// ServiceTag names this network for mDNS and DHT rendezvous.
	ServiceTag = "powgossip-consensus"
	// DefaultSettleTimeout bounds how long Send services peer events after
	// publishing.
	DefaultSettleTimeout = 250 * time.Millisecond

	heartbeatInterval = time.Second
	connectTimeout    = 10 * time.Second
)

// SwarmConfig configures a GossipSwarm.
type SwarmConfig struct {
	ListenAddrs    []string
	Identity       crypto.PrivKey // nil generates a throwaway key
	BootstrapPeers []string
	EnableMDNS     bool
	EnableDHT      bool
	SettleTimeout  time.Duration
}

type inboundMessage struct {
	from peer.ID
	data []byte
}

type swarmPeerEvent struct {
	kind   peerEventKind
	info   peer.AddrInfo
	source string
}

// GossipSwarm is a GossipNetwork over libp2p GossipSub.
type GossipSwarm struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	host             host.Host
	ps               *pubsub.PubSub
	kadDHT           *dht.IpfsDHT
	routingDiscovery *routing.RoutingDiscovery
	mdnsService      mdns.Service

	settle time.Duration

	mu       sync.RWMutex
	topics   map[string]*pubsub.Topic
	subs     map[string]*pubsub.Subscription
	outgoing string
	peers    map[peer.ID]struct{}

	messages   chan inboundMessage
	peerEvents chan swarmPeerEvent

	closeOnce sync.Once
}

var _ GossipNetwork = (*GossipSwarm)(nil)

// NewGossipSwarm starts a libp2p host with GossipSub and the configured
// discovery mechanisms.
func NewGossipSwarm(cfg SwarmConfig) (*GossipSwarm, error) {
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{DefaultListenAddr}
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, s := range cfg.ListenAddrs {
		maddr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, maddr)
	}

	opts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if cfg.Identity != nil {
		opts = append(opts, libp2p.Identity(cfg.Identity))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	utils.LogInfo("LibP2P Host created: %s, listening on: %v", h.ID(), h.Addrs())

	ctx, cancel := context.WithCancel(context.Background())
	s := &GossipSwarm{
		ctx:        ctx,
		cancel:     cancel,
		host:       h,
		settle:     cfg.SettleTimeout,
		topics:     make(map[string]*pubsub.Topic),
		subs:       make(map[string]*pubsub.Subscription),
		peers:      make(map[peer.ID]struct{}),
		messages:   make(chan inboundMessage, inboundCapacity),
		peerEvents: make(chan swarmPeerEvent, inboundCapacity),
	}

	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = heartbeatInterval
	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithGossipSubParams(params),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}
	s.ps = ps

	h.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(_ network.Network, c network.Conn) {
			s.pushPeerEvent(swarmPeerEvent{kind: peerLost, info: peer.AddrInfo{ID: c.RemotePeer()}})
		},
	})

	if cfg.EnableMDNS {
		if err := s.startMDNS(); err != nil {
			s.Close()
			return nil, err
		}
	}
	if cfg.EnableDHT {
		if err := s.startDHT(cfg.BootstrapPeers); err != nil {
			s.Close()
			return nil, err
		}
	} else if len(cfg.BootstrapPeers) > 0 {
		s.connectBootstrapPeers(cfg.BootstrapPeers)
	}

	return s, nil
}

// ID returns the host's peer id.
func (s *GossipSwarm) ID() string {
	return s.host.ID().String()
}

// Addrs returns the host's dialable addresses including its peer id.
func (s *GossipSwarm) Addrs() []string {
	out := make([]string, 0, len(s.host.Addrs()))
	for _, a := range s.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, s.host.ID()))
	}
	return out
}

// Subscribe joins topic and starts reading its messages.
func (s *GossipSwarm) Subscribe(topicName string) error {
	if s.ctx.Err() != nil {
		return ErrNetworkClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[topicName]; ok {
		return nil
	}

	topic, err := s.ps.Join(topicName)
	if err != nil {
		utils.LogError("Failed to join gossip topic %s: %v", topicName, err)
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		utils.LogError("Failed to subscribe to gossip topic %s: %v", topicName, err)
		return err
	}
	s.topics[topicName] = topic
	s.subs[topicName] = sub
	utils.LogInfo("Successfully joined and subscribed to gossip topic: %s", topicName)

	s.wg.Add(1)
	go s.readMessages(sub)
	return nil
}

// Publish makes a subscribed topic the outgoing one.
func (s *GossipSwarm) Publish(topicName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topicName]; !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topicName)
	}
	s.outgoing = topicName
	return nil
}

// Send publishes the next queued block and then services peer events for at
// most the settle timeout.
func (s *GossipSwarm) Send(ctx context.Context, queue <-chan blockchain.Block) error {
	// The block is taken off the queue first so a failed send never leaves
	// it behind for a later call.
	b, err := dequeue(ctx, queue)
	if err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrNetworkClosed
	}
	s.mu.RLock()
	topic := s.topics[s.outgoing]
	s.mu.RUnlock()
	if topic == nil {
		return ErrNoPublishTopic
	}
	payload, err := blockchain.EncodeBlock(b)
	if err != nil {
		return err
	}
	if err := topic.Publish(ctx, payload); err != nil {
		return fmt.Errorf("failed to publish block %d: %w", b.Index, err)
	}
	utils.LogDebug("Published block %d (%d bytes) to %s", b.Index, len(payload), topic.String())

	s.servicePeerEvents(ctx, s.settle)
	return nil
}

// PollEvents waits up to timeout for an inbound block or a peer event.
func (s *GossipSwarm) PollEvents(ctx context.Context, timeout time.Duration) (*blockchain.Block, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.messages:
		b, err := blockchain.DecodeBlock(msg.data)
		if err != nil {
			return nil, fmt.Errorf("message from %s: %w", msg.from, err)
		}
		return &b, nil
	case ev := <-s.peerEvents:
		s.applyPeerEvent(ev)
		return nil, nil
	case <-timer.C:
		return nil, nil
	case <-s.ctx.Done():
		return nil, ErrNetworkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PeerCount returns the number of peers in the peer book.
func (s *GossipSwarm) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Close stops discovery, cancels subscriptions and shuts the host down.
func (s *GossipSwarm) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		for name, sub := range s.subs {
			sub.Cancel()
			if err := s.topics[name].Close(); err != nil {
				utils.LogDebug("Topic %s not closed cleanly: %v", name, err)
			}
		}
		s.mu.Unlock()

		if s.mdnsService != nil {
			if err := s.mdnsService.Close(); err != nil {
				errs = append(errs, fmt.Errorf("mdns: %w", err))
			}
		}
		if s.kadDHT != nil {
			if err := s.kadDHT.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dht: %w", err))
			}
		}
		if err := s.host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("host: %w", err))
		}
		s.wg.Wait()
		utils.LogInfo("LibP2P services stopped")
	})
	return errors.Join(errs...)
}

func (s *GossipSwarm) readMessages(sub *pubsub.Subscription) {
	defer s.wg.Done()
	defer utils.LogDebug("Exiting gossip reader for %s", sub.Topic())

	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				return
			}
			utils.LogError("Error receiving gossip message: %v", err)
			continue
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}

		select {
		case s.messages <- inboundMessage{from: msg.ReceivedFrom, data: msg.Data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *GossipSwarm) servicePeerEvents(ctx context.Context, d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		select {
		case ev := <-s.peerEvents:
			s.applyPeerEvent(ev)
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *GossipSwarm) pushPeerEvent(ev swarmPeerEvent) {
	select {
	case s.peerEvents <- ev:
	default:
		utils.LogWarn("Peer event queue full, dropping %s event for %s", ev.kind, ev.info.ID)
	}
}

func (s *GossipSwarm) applyPeerEvent(ev swarmPeerEvent) {
	if ev.info.ID == s.host.ID() {
		return
	}

	s.mu.Lock()
	_, known := s.peers[ev.info.ID]
	if ev.kind == peerFound {
		s.peers[ev.info.ID] = struct{}{}
	} else {
		delete(s.peers, ev.info.ID)
	}
	count := len(s.peers)
	s.mu.Unlock()
	PeersGauge.Set(float64(count))

	switch {
	case ev.kind == peerFound && !known:
		PeersDiscovered.WithLabelValues(ev.source).Inc()
		utils.LogInfo("Discovered peer %s via %s", ev.info.ID, ev.source)
		if len(ev.info.Addrs) > 0 {
			s.wg.Add(1)
			go s.connect(ev.info)
		}
	case ev.kind == peerLost && known:
		PeersLost.Inc()
		utils.LogInfo("Peer %s went away", ev.info.ID)
	}
}

func (s *GossipSwarm) connect(info peer.AddrInfo) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, connectTimeout)
	defer cancel()
	if err := s.host.Connect(ctx, info); err != nil {
		utils.LogWarn("Failed to connect to peer %s: %v", info.ID, err)
		return
	}
	utils.LogDebug("Connected to peer %s", info.ID)
}
