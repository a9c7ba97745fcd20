package miner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"powgossip_go/blockchain"
	"powgossip_go/mempool"
	"powgossip_go/utils"
)

// Announcer hands a freshly promoted block to the gossip layer.
type Announcer interface {
	Announce(ctx context.Context, b blockchain.Block) error
}

// Config holds the miner's settings.
type Config struct {
	// Address receives the coinbase output.
	Address blockchain.Address
	// Workers is the number of search goroutines. Zero means one per CPU.
	Workers int
	// MaxBlockTxs caps the mempool transactions placed after the coinbase.
	// Zero leaves blocks with the coinbase only.
	MaxBlockTxs int
	// Clock stamps candidate blocks. Nil means the wall clock.
	Clock clock.Clock
}

// exhaustedBackoff is how long Run waits before looking at the tip again when
// it cannot be extended.
var exhaustedBackoff = time.Minute

// Miner repeatedly extends the chain tip with a new proof-of-work block.
type Miner struct {
	cfg       Config
	chain     *blockchain.Blockchain
	pool      *mempool.Mempool
	announcer Announcer
}

// New creates a miner. announcer may be nil, in which case promoted blocks are
// not announced.
func New(cfg Config, chain *blockchain.Blockchain, pool *mempool.Mempool, announcer Announcer) *Miner {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Miner{
		cfg:       cfg,
		chain:     chain,
		pool:      pool,
		announcer: announcer,
	}
}

// GenerateCandidate searches for a block extending tip and assembles it. The
// search holds no chain state; it only uses the tip it was given.
func (m *Miner) GenerateCandidate(ctx context.Context, tip blockchain.Block) (blockchain.Block, error) {
	if tip.Index >= blockchain.MaxIndex {
		return blockchain.Block{}, fmt.Errorf("%w: tip is at %d", blockchain.ErrIndexExhausted, tip.Index)
	}
	start := time.Now()
	sol, err := Search(ctx, tip.Index+1, tip.Hash, tip.Target, m.cfg.Workers)
	if err != nil {
		return blockchain.Block{}, err
	}
	SearchDuration.Observe(time.Since(start).Seconds())

	var (
		selected []blockchain.Tx
		fees     uint64
	)
	if m.pool != nil {
		selected, fees = m.pool.SelectForBlock(m.cfg.MaxBlockTxs)
	}

	coinbase, err := GenerateCoinbase(fees, m.cfg.Address)
	if err != nil {
		return blockchain.Block{}, err
	}

	txs := make([]blockchain.Tx, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	utils.LogDebug("Found nonce for block %d after %d attempts", tip.Index+1, sol.Attempts)

	return blockchain.Block{
		Index:        tip.Index + 1,
		Hash:         sol.Hash,
		PreviousHash: tip.Hash,
		Transactions: txs,
		Time:         uint64(m.cfg.Clock.Now().Unix()),
		Nonce:        sol.Nonce,
		Target:       tip.Target,
	}, nil
}

// MineOnce reads the tip, mines one candidate on top of it and offers it to
// the merge policy. A promoted candidate is announced; a candidate that lost
// the race to a block received meanwhile is dropped.
func (m *Miner) MineOnce(ctx context.Context) (blockchain.Block, blockchain.PromoteResult, error) {
	tip, err := m.chain.CurrentTip(ctx)
	if err != nil {
		return blockchain.Block{}, blockchain.PromoteResult{}, fmt.Errorf("failed to read tip: %w", err)
	}

	utils.LogDebug("Trying to find candidate block on top of %d", tip.Index)
	candidate, err := m.GenerateCandidate(ctx, tip)
	if err != nil {
		return blockchain.Block{}, blockchain.PromoteResult{}, err
	}

	res, err := m.chain.TryPromote(ctx, candidate)
	if err != nil {
		return candidate, res, fmt.Errorf("failed to promote candidate: %w", err)
	}

	if res.Outcome != blockchain.Promoted {
		BlocksMined.WithLabelValues("stale").Inc()
		utils.LogInfo("Mined block %d but the tip moved to %d meanwhile, dropping it", candidate.Index, res.Tip.Index)
		return candidate, res, nil
	}

	BlocksMined.WithLabelValues("promoted").Inc()
	if m.pool != nil {
		m.pool.RemoveIncluded(candidate)
	}
	utils.LogInfo("Mined %s", candidate.Summary())
	utils.LogDebug("%s", candidate.Describe())

	if m.announcer != nil {
		if err := m.announcer.Announce(ctx, candidate); err != nil {
			utils.LogError("Publishing error for mined block %d: %v", candidate.Index, err)
		}
	}
	return candidate, res, nil
}

// Run mines until ctx is done. Errors other than cancellation are logged and
// the loop carries on with the next tip.
func (m *Miner) Run(ctx context.Context) error {
	utils.LogInfo("Miner started, paying rewards to %s", m.cfg.Address)
	for {
		_, _, err := m.MineOnce(ctx)
		switch {
		case ctx.Err() != nil:
			utils.LogInfo("Miner stopped")
			return nil
		case errors.Is(err, blockchain.ErrChainStopped):
			return err
		case errors.Is(err, blockchain.ErrIndexExhausted):
			utils.LogError("Mining paused: %v", err)
			select {
			case <-m.cfg.Clock.TickAfter(exhaustedBackoff):
			case <-ctx.Done():
				utils.LogInfo("Miner stopped")
				return nil
			}
		case err != nil:
			utils.LogError("Mining error: %v", err)
		}
	}
}
