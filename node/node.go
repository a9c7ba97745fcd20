// Package node wires the chain state, mempool, relay, miner and API of one
// process together and runs them until the context ends.
package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/sync/errgroup"

	"powgossip_go/blockchain"
	"powgossip_go/config"
	"powgossip_go/mempool"
	"powgossip_go/miner"
	"powgossip_go/p2p"
	"powgossip_go/security"
	"powgossip_go/utils"
)

// Node is one running participant: a miner or a relaying full node.
type Node struct {
	ID string

	cfg     *config.Config
	genesis blockchain.Block
	chain   *blockchain.Blockchain
	pool    *mempool.Mempool
	archive blockchain.BlockArchive
	network p2p.GossipNetwork
	relay   *p2p.Relay
	miner   *miner.Miner
	server  *p2p.Server
}

// Build loads the node key when a passphrase is configured and starts a
// libp2p swarm for cfg, then assembles the node on the default genesis.
func Build(cfg *config.Config) (*Node, error) {
	var identity crypto.PrivKey
	if cfg.KeyPassphrase != "" {
		signer, err := security.NewLocalSigner(cfg.DataDir, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize node key: %w", err)
		}
		identity, err = signer.Libp2pKey()
		if err != nil {
			return nil, err
		}
		if id, err := signer.PeerID(); err == nil {
			utils.LogInfo("Loaded node key for peer %s", id)
		}
		if cfg.RewardFromKey {
			cfg.RewardAddress = signer.Address()
		}
	}

	swarm, err := p2p.NewGossipSwarm(p2p.SwarmConfig{
		ListenAddrs:    cfg.P2PListen,
		Identity:       identity,
		BootstrapPeers: cfg.BootstrapPeers,
		EnableMDNS:     cfg.EnableMDNS,
		EnableDHT:      cfg.EnableDHT,
	})
	if err != nil {
		return nil, err
	}
	for _, addr := range swarm.Addrs() {
		utils.LogInfo("Listening on %s", addr)
	}

	n, err := New(cfg, blockchain.Genesis(), swarm)
	if err != nil {
		swarm.Close()
		return nil, err
	}
	return n, nil
}

// New assembles a node on network. The node owns network from here on and
// closes it when Run returns.
func New(cfg *config.Config, genesis blockchain.Block, network p2p.GossipNetwork) (*Node, error) {
	chain, err := blockchain.NewBlockchain(genesis, blockchain.Options{
		RetainHistory: cfg.RetainHistory(),
		ResyncAfter:   resyncAfter(cfg),
	})
	if err != nil {
		return nil, err
	}

	archive, err := blockchain.OpenArchive(cfg.DBBackend, cfg.DataDir)
	if err != nil {
		chain.Stop()
		return nil, err
	}
	if err := archive.SaveBlock(&genesis); err != nil {
		chain.Stop()
		archive.Close()
		return nil, fmt.Errorf("failed to archive genesis: %w", err)
	}

	pool := mempool.NewMempool(cfg.MempoolCapacity)

	relay, err := p2p.NewRelay(p2p.RelayConfig{
		PublishDelay:   cfg.PublishDelay(),
		PollTimeout:    cfg.PollTimeout,
		VerifyWork:     cfg.VerifyWork,
		ExpectedTarget: genesis.Target,
	}, network, chain, pool)
	if err != nil {
		chain.Stop()
		archive.Close()
		return nil, err
	}

	n := &Node{
		ID:      uuid.NewString(),
		cfg:     cfg,
		genesis: genesis,
		chain:   chain,
		pool:    pool,
		archive: archive,
		network: network,
		relay:   relay,
	}

	if cfg.Mining() {
		n.miner = miner.New(miner.Config{
			Address:     cfg.RewardAddress,
			Workers:     cfg.MiningWorkers,
			MaxBlockTxs: cfg.MaxBlockTxs,
		}, chain, pool, relay)
	}
	if cfg.APIEnabled {
		n.server = p2p.NewServer(n.ID, string(cfg.Role), cfg.APIPort, chain, pool, archive, network)
	}
	return n, nil
}

func resyncAfter(cfg *config.Config) int {
	if cfg.RetainHistory() {
		return blockchain.DefaultResyncAfter
	}
	return 0
}

// Chain returns the node's chain state.
func (n *Node) Chain() *blockchain.Blockchain { return n.chain }

// Mempool returns the node's transaction pool.
func (n *Node) Mempool() *mempool.Mempool { return n.pool }

// Archive returns the node's block archive.
func (n *Node) Archive() blockchain.BlockArchive { return n.archive }

// Run starts every task of the node's role and blocks until ctx is done or a
// task fails for good. All resources are released before it returns.
func (n *Node) Run(ctx context.Context) error {
	defer n.close()

	// Subscriptions are taken before any task runs so no tip is missed.
	archived, cancelArchive, err := n.chain.Subscribe(ctx)
	if err != nil {
		return n.startupError(ctx, err)
	}
	defer cancelArchive()

	var tips <-chan blockchain.Block
	if n.server != nil {
		var cancelTips func()
		tips, cancelTips, err = n.chain.Subscribe(ctx)
		if err != nil {
			return n.startupError(ctx, err)
		}
		defer cancelTips()
	}

	utils.PrintStartupMessage(n.ID, string(n.cfg.Role), n.cfg.APIPort, n.network.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.relay.PublishLoop(gctx) })
	g.Go(func() error { return n.relay.AnnounceLoop(gctx) })
	g.Go(func() error { return n.relay.ReceiveLoop(gctx) })
	g.Go(func() error { return n.archiveLoop(gctx, archived) })
	if n.miner != nil {
		g.Go(func() error { return n.miner.Run(gctx) })
	}
	if n.server != nil {
		g.Go(func() error { return n.server.Start(gctx) })
		g.Go(func() error { return n.server.Tips.Run(gctx, tips) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		utils.LogError("Node stopped: %v", err)
		return err
	}
	utils.LogInfo("Node stopped")
	return nil
}

// startupError turns a failure caused by ctx ending during startup into a
// clean stop.
func (n *Node) startupError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		utils.LogInfo("Node stopped during startup")
		return nil
	}
	return err
}

// archiveLoop records every new tip in the archive.
func (n *Node) archiveLoop(ctx context.Context, tips <-chan blockchain.Block) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-tips:
			if !ok {
				return nil
			}
			if err := n.archive.SaveBlock(&b); err != nil {
				utils.LogError("Failed to archive block %d: %v", b.Index, err)
			}
		}
	}
}

func (n *Node) close() {
	if err := n.network.Close(); err != nil {
		utils.LogWarn("Error closing network: %v", err)
	}
	n.chain.Stop()
	if err := n.archive.Close(); err != nil {
		utils.LogWarn("Error closing archive: %v", err)
	}
}
