package p2p

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/multiformats/go-multiaddr"

	"powgossip_go/utils"
)

const (
	advertiseInterval = 30 * time.Minute
	advertiseTTL      = time.Hour
	findPeersInterval = time.Minute
)

// mdnsNotifee turns mDNS discoveries into peer events.
type mdnsNotifee struct {
	swarm *GossipSwarm
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	n.swarm.pushPeerEvent(swarmPeerEvent{kind: peerFound, info: info, source: "mdns"})
}

func (s *GossipSwarm) startMDNS() error {
	svc := mdns.NewMdnsService(s.host, ServiceTag, &mdnsNotifee{swarm: s})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start mdns: %w", err)
	}
	s.mdnsService = svc
	utils.LogInfo("mDNS discovery started with service tag %s", ServiceTag)
	return nil
}

func (s *GossipSwarm) startDHT(bootstrapPeers []string) error {
	kDHT, err := dht.New(s.ctx, s.host, dht.Mode(dht.ModeServer))
	if err != nil {
		return fmt.Errorf("failed to create Kademlia DHT: %w", err)
	}
	s.kadDHT = kDHT
	s.routingDiscovery = routing.NewRoutingDiscovery(kDHT)

	s.connectBootstrapPeers(bootstrapPeers)

	utils.LogInfo("Performing KadDHT Bootstrap call...")
	if err := kDHT.Bootstrap(s.ctx); err != nil {
		return fmt.Errorf("dht bootstrap failed: %w", err)
	}

	s.wg.Add(2)
	go s.advertiseLoop()
	go s.findPeersLoop()
	return nil
}

// connectBootstrapPeers dials every configured multiaddr in parallel and waits
// for the attempts to finish.
func (s *GossipSwarm) connectBootstrapPeers(addrs []string) {
	if len(addrs) == 0 {
		return
	}

	var (
		wg        sync.WaitGroup
		connected atomic.Int32
	)
	utils.LogInfo("Attempting to connect to %d bootstrap peers", len(addrs))
	for _, addrStr := range addrs {
		if addrStr == "" {
			continue
		}
		maddr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			utils.LogError("Failed to parse multiaddr '%s': %v", addrStr, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			utils.LogError("Failed to create AddrInfo from multiaddr '%s': %v", maddr, err)
			continue
		}
		if pi.ID == s.host.ID() {
			utils.LogDebug("Skipping connection to self: %s", pi.ID)
			continue
		}

		wg.Add(1)
		go func(info peer.AddrInfo) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, connectTimeout)
			defer cancel()
			if err := s.host.Connect(ctx, info); err != nil {
				utils.LogWarn("Failed to connect to bootstrap peer %s: %v", info.ID, err)
				return
			}
			connected.Add(1)
			s.pushPeerEvent(swarmPeerEvent{kind: peerFound, info: peer.AddrInfo{ID: info.ID}, source: "bootstrap"})
		}(*pi)
	}
	wg.Wait()
	utils.LogInfo("Connected to %d bootstrap peers", connected.Load())
}

func (s *GossipSwarm) advertiseLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(advertiseInterval)
	defer ticker.Stop()

	for {
		if err := s.advertiseOnce(); err != nil && s.ctx.Err() == nil {
			utils.LogWarn("Advertising failed: %v", err)
		}
		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *GossipSwarm) advertiseOnce() error {
	_, err := s.routingDiscovery.Advertise(s.ctx, ServiceTag, discovery.TTL(advertiseTTL))
	if err != nil {
		return fmt.Errorf("failed to advertise: %w", err)
	}
	utils.LogDebug("Advertised %s on the DHT", ServiceTag)
	return nil
}

func (s *GossipSwarm) findPeersLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(findPeersInterval)
	defer ticker.Stop()

	for {
		peerChan, err := s.routingDiscovery.FindPeers(s.ctx, ServiceTag)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			utils.LogWarn("FindPeers failed for tag '%s': %v", ServiceTag, err)
		} else {
			for info := range peerChan {
				if info.ID == s.host.ID() || len(info.Addrs) == 0 {
					continue
				}
				s.pushPeerEvent(swarmPeerEvent{kind: peerFound, info: info, source: "dht"})
			}
		}

		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}
