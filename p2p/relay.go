package p2p

import (
	"context"
	"errors"
	"time"

	"powgossip_go/blockchain"
	"powgossip_go/mempool"
	"powgossip_go/utils"
)

// RelayConfig holds the relay's pacing and validation settings.
type RelayConfig struct {
	// PublishDelay is the pause after every publish attempt of the tip.
	PublishDelay time.Duration
	// PollTimeout bounds each receive wait. Zero means DefaultPollTimeout.
	PollTimeout time.Duration
	// VerifyWork checks an inbound block's proof of work before merging it.
	VerifyWork bool
	// ExpectedTarget is the only target inbound blocks may carry.
	ExpectedTarget uint64
}

// Relay moves blocks between the chain state and the gossip network.
type Relay struct {
	cfg     RelayConfig
	network GossipNetwork
	chain   *blockchain.Blockchain
	pool    *mempool.Mempool

	publishQueue  chan blockchain.Block
	announceQueue chan blockchain.Block
}

// NewRelay subscribes network to ConsensusTopic, makes it the outgoing topic
// and returns a relay over it. pool may be nil.
func NewRelay(cfg RelayConfig, network GossipNetwork, chain *blockchain.Blockchain, pool *mempool.Mempool) (*Relay, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if err := network.Subscribe(ConsensusTopic); err != nil {
		return nil, err
	}
	if err := network.Publish(ConsensusTopic); err != nil {
		return nil, err
	}

	return &Relay{
		cfg:           cfg,
		network:       network,
		chain:         chain,
		pool:          pool,
		publishQueue:  make(chan blockchain.Block, QueueCapacity),
		announceQueue: make(chan blockchain.Block, QueueCapacity),
	}, nil
}

// Announce queues a freshly promoted local block for immediate publishing.
// It never blocks; a full queue is reported as ErrQueueFull.
func (r *Relay) Announce(_ context.Context, b blockchain.Block) error {
	if err := enqueue(r.announceQueue, b.Clone()); err != nil {
		QueueDrops.WithLabelValues("announce").Inc()
		return err
	}
	return nil
}

// PublishLoop republishes the current tip until ctx is done, pausing
// PublishDelay after each attempt. Failures are logged and retried.
func (r *Relay) PublishLoop(ctx context.Context) error {
	for {
		if err := r.PublishTip(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, blockchain.ErrChainStopped) || errors.Is(err, ErrNetworkClosed) {
				return err
			}
			utils.LogError("Publishing error: %v", err)
		}

		if r.cfg.PublishDelay > 0 {
			select {
			case <-time.After(r.cfg.PublishDelay):
			case <-ctx.Done():
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}
}

// PublishTip clones the tip, queues it and has the network publish it.
func (r *Relay) PublishTip(ctx context.Context) error {
	tip, err := r.chain.CurrentTip(ctx)
	if err != nil {
		return err
	}

	if err := enqueue(r.publishQueue, tip); err != nil {
		QueueDrops.WithLabelValues("publish").Inc()
		return err
	}

	if err := r.network.Send(ctx, r.publishQueue); err != nil {
		BlocksPublished.WithLabelValues("error").Inc()
		r.drainPublishQueue()
		return err
	}
	BlocksPublished.WithLabelValues("ok").Inc()
	utils.LogDebug("Published tip %d (%s)", tip.Index, tip.Hash.Short())
	return nil
}

// drainPublishQueue drops a tip the network failed to take off the queue, so
// the next attempt publishes a fresh one.
func (r *Relay) drainPublishQueue() {
	for {
		select {
		case <-r.publishQueue:
			QueueDrops.WithLabelValues("publish").Inc()
		default:
			return
		}
	}
}

// AnnounceLoop publishes blocks handed to Announce in the order they were
// announced.
func (r *Relay) AnnounceLoop(ctx context.Context) error {
	for {
		err := r.network.Send(ctx, r.announceQueue)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrNetworkClosed):
			return err
		case err != nil:
			BlocksPublished.WithLabelValues("error").Inc()
			utils.LogError("Publishing error for announced block: %v", err)
		default:
			BlocksPublished.WithLabelValues("ok").Inc()
		}
	}
}

// ReceiveLoop polls the network for blocks and merges them until ctx is done.
// No per-iteration error stops it.
func (r *Relay) ReceiveLoop(ctx context.Context) error {
	for {
		b, err := r.network.PollEvents(ctx, r.cfg.PollTimeout)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrNetworkClosed):
			return err
		case errors.Is(err, blockchain.ErrDecode):
			DecodeErrors.Inc()
			utils.LogWarn("Dropping undecodable message: %v", err)
		case err != nil:
			utils.LogError("Network error: %v", err)
		case b == nil:
			PollsWithoutBlock.Inc()
			utils.LogDebug("No block from network within %s", r.cfg.PollTimeout)
		default:
			if _, err := r.HandleBlock(ctx, *b); err != nil {
				if errors.Is(err, blockchain.ErrChainStopped) {
					return err
				}
				utils.LogWarn("Rejected block %d from network: %v", b.Index, err)
			}
		}
	}
}

// HandleBlock validates an inbound block and applies the merge policy to it.
func (r *Relay) HandleBlock(ctx context.Context, b blockchain.Block) (blockchain.PromoteResult, error) {
	if r.cfg.VerifyWork {
		if err := blockchain.VerifyWork(b, r.cfg.ExpectedTarget); err != nil {
			BlocksReceived.WithLabelValues("invalid_work").Inc()
			blockchain.BlocksRejected.WithLabelValues("invalid_work").Inc()
			return blockchain.PromoteResult{}, err
		}
	}

	res, err := r.chain.TryPromote(ctx, b)
	if err != nil {
		return res, err
	}
	BlocksReceived.WithLabelValues(res.Outcome.String()).Inc()

	switch res.Outcome {
	case blockchain.Promoted:
		if r.pool != nil {
			for _, connected := range res.Connected {
				r.pool.RemoveIncluded(connected)
			}
		}
		utils.LogInfo("Received new tip from network: %s", res.Tip.Summary())
	case blockchain.Parked:
		utils.LogInfo("Parked block %d from network, tip is still %d", b.Index, res.Tip.Index)
	default:
		utils.LogDebug("Duplicate or stale consensus message: block %d, tip %d", b.Index, res.Tip.Index)
	}
	return res, nil
}
