package blockchain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"powgossip_go/utils"
)

// Options configures how much of the chain a Blockchain keeps.
type Options struct {
	// RetainHistory keeps every connected block instead of only the tip, and
	// requires new blocks to continue the tip index by exactly one.
	RetainHistory bool
	// PendingLimit bounds the parked out-of-order blocks. Zero means
	// DefaultPendingLimit.
	PendingLimit int
	// ResyncAfter is the number of consecutive unconnectable blocks after which
	// the chain jumps over the gap. Zero or less never jumps.
	ResyncAfter int
}

// PromoteOutcome says what TryPromote did with a block.
type PromoteOutcome int

const (
	// Stale means the block was not higher than the tip and was discarded.
	Stale PromoteOutcome = iota
	// Promoted means the block, and possibly parked blocks after it, became the tip.
	Promoted
	// Parked means the block is higher than the tip but leaves a gap; it is kept
	// until the missing index arrives.
	Parked
)

func (o PromoteOutcome) String() string {
	switch o {
	case Stale:
		return "stale"
	case Promoted:
		return "promoted"
	case Parked:
		return "parked"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PromoteResult is returned by TryPromote.
type PromoteResult struct {
	Outcome   PromoteOutcome
	Tip       Block // tip after the call
	Connected []Block // blocks that became the tip during the call, in order
}

/**
 * Blockchain owns the node's view of the chain.
 * A single goroutine holds the state; every read and every compare-and-promote
 * is a request served by that goroutine, so the comparison against the tip and
 * the promotion can never interleave with another caller.
 */
type Blockchain struct {
	opts     Options
	requests chan func(*chainState)
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type chainState struct {
	opts      Options
	tip       Block
	blocks    []Block // connected blocks, nil unless RetainHistory
	pending   map[uint32]Block
	strikes   int
	subs      map[uint64]chan Block
	nextSubID uint64

	// connected collects the blocks connected by the current request.
	connected []Block
}

// NewBlockchain starts a chain whose only block is genesis.
func NewBlockchain(genesis Block, opts Options) (*Blockchain, error) {
	if err := ValidateGenesis(genesis); err != nil {
		return nil, err
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = DefaultPendingLimit
	}

	state := &chainState{
		opts:    opts,
		tip:     genesis.Clone(),
		pending: make(map[uint32]Block),
		subs:    make(map[uint64]chan Block),
	}
	if opts.RetainHistory {
		state.blocks = []Block{genesis.Clone()}
	}

	bc := &Blockchain{
		opts:     opts,
		requests: make(chan func(*chainState)),
		quit:     make(chan struct{}),
	}
	bc.wg.Add(1)
	go bc.run(state)

	TipIndexGauge.Set(float64(genesis.Index))
	return bc, nil
}

// RetainsHistory reports whether the chain keeps every block.
func (bc *Blockchain) RetainsHistory() bool {
	return bc.opts.RetainHistory
}

func (bc *Blockchain) run(state *chainState) {
	defer bc.wg.Done()

	for {
		select {
		case req := <-bc.requests:
			req(state)

		case <-bc.quit:
			for id, ch := range state.subs {
				close(ch)
				delete(state.subs, id)
			}
			return
		}
	}
}

// do runs fn on the owning goroutine and waits for it to finish.
func (bc *Blockchain) do(ctx context.Context, fn func(*chainState)) error {
	done := make(chan struct{})
	req := func(s *chainState) {
		fn(s)
		close(done)
	}

	select {
	case bc.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-bc.quit:
		return ErrChainStopped
	}

	// A handed-over fn always runs to completion and writes the caller's
	// results, so it is awaited regardless of ctx.
	<-done
	return nil
}

// Stop shuts the owning goroutine down and closes every subscription.
func (bc *Blockchain) Stop() {
	bc.stopOnce.Do(func() {
		close(bc.quit)
		bc.wg.Wait()
	})
}

// CurrentTip returns a copy of the tip.
func (bc *Blockchain) CurrentTip(ctx context.Context) (Block, error) {
	var tip Block
	err := bc.do(ctx, func(s *chainState) {
		tip = s.tip.Clone()
	})
	return tip, err
}

// TryPromote applies the merge policy to b: a block whose index is strictly
// higher than the tip's replaces it, anything else is discarded. With history
// retention the block must continue the tip index by one; a block further ahead
// is parked until the gap closes.
func (bc *Blockchain) TryPromote(ctx context.Context, b Block) (PromoteResult, error) {
	var res PromoteResult
	err := bc.do(ctx, func(s *chainState) {
		res = s.promote(b)
	})
	return res, err
}

// GetBlocks returns the retained blocks in order. Without history this is just the tip.
func (bc *Blockchain) GetBlocks(ctx context.Context) ([]Block, error) {
	var blocks []Block
	err := bc.do(ctx, func(s *chainState) {
		if s.blocks == nil {
			blocks = []Block{s.tip.Clone()}
			return
		}
		blocks = make([]Block, len(s.blocks))
		for i, b := range s.blocks {
			blocks[i] = b.Clone()
		}
	})
	return blocks, err
}

// GetBlockByIndex looks a block up among the retained blocks.
func (bc *Blockchain) GetBlockByIndex(ctx context.Context, index uint32) (Block, error) {
	var (
		blk   Block
		found bool
	)
	err := bc.do(ctx, func(s *chainState) {
		if s.blocks == nil {
			if s.tip.Index == index {
				blk, found = s.tip.Clone(), true
			}
			return
		}
		i := sort.Search(len(s.blocks), func(i int) bool {
			return s.blocks[i].Index >= index
		})
		if i < len(s.blocks) && s.blocks[i].Index == index {
			blk, found = s.blocks[i].Clone(), true
		}
	})
	if err != nil {
		return Block{}, err
	}
	if !found {
		return Block{}, fmt.Errorf("block %d: %w", index, ErrNotFound)
	}
	return blk, nil
}

// GetLength returns the number of retained blocks.
func (bc *Blockchain) GetLength(ctx context.Context) (int, error) {
	var n int
	err := bc.do(ctx, func(s *chainState) {
		if s.blocks == nil {
			n = 1
			return
		}
		n = len(s.blocks)
	})
	return n, err
}

// PendingCount returns the number of parked blocks.
func (bc *Blockchain) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := bc.do(ctx, func(s *chainState) {
		n = len(s.pending)
	})
	return n, err
}

// Subscribe returns a channel that receives every block that becomes the tip,
// and a function that cancels the subscription. Notifications are dropped for
// a subscriber whose buffer is full.
func (bc *Blockchain) Subscribe(ctx context.Context) (<-chan Block, func(), error) {
	ch := make(chan Block, subscriberBuffer)
	var id uint64
	err := bc.do(ctx, func(s *chainState) {
		id = s.nextSubID
		s.nextSubID++
		s.subs[id] = ch
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = bc.do(context.Background(), func(s *chainState) {
				if sub, ok := s.subs[id]; ok {
					close(sub)
					delete(s.subs, id)
				}
			})
		})
	}
	return ch, cancel, nil
}

func (s *chainState) promote(b Block) PromoteResult {
	s.connected = nil
	if b.Index <= s.tip.Index {
		BlocksRejected.WithLabelValues("stale").Inc()
		return PromoteResult{Outcome: Stale, Tip: s.tip.Clone()}
	}

	if !s.opts.RetainHistory {
		s.connect(b)
		return s.promoted()
	}

	if b.Index == s.tip.Index+1 {
		s.connect(b)
		s.strikes = 0
		s.connectPending()
		return s.promoted()
	}

	s.park(b)
	s.strikes++
	if s.opts.ResyncAfter > 0 && s.strikes >= s.opts.ResyncAfter {
		if n := s.resync(); n > 0 {
			return s.promoted()
		}
	}
	return PromoteResult{Outcome: Parked, Tip: s.tip.Clone()}
}

func (s *chainState) promoted() PromoteResult {
	res := PromoteResult{Outcome: Promoted, Tip: s.tip.Clone(), Connected: s.connected}
	s.connected = nil
	return res
}

func (s *chainState) connect(b Block) {
	s.tip = b.Clone()
	if s.opts.RetainHistory {
		s.blocks = append(s.blocks, s.tip.Clone())
	}
	s.connected = append(s.connected, s.tip.Clone())
	TipIndexGauge.Set(float64(s.tip.Index))
	BlocksConnected.Inc()

	for _, ch := range s.subs {
		select {
		case ch <- s.tip.Clone():
		default:
			SubscriberDrops.Inc()
		}
	}
}

// connectPending connects parked blocks that now continue the tip.
func (s *chainState) connectPending() int {
	n := 0
	for {
		next, ok := s.pending[s.tip.Index+1]
		if !ok {
			break
		}
		delete(s.pending, next.Index)
		s.connect(next)
		n++
	}
	for idx := range s.pending {
		if idx <= s.tip.Index {
			delete(s.pending, idx)
		}
	}
	PendingBlocksGauge.Set(float64(len(s.pending)))
	return n
}

// park keeps the PendingLimit blocks closest to the tip.
func (s *chainState) park(b Block) {
	if _, ok := s.pending[b.Index]; !ok && len(s.pending) >= s.opts.PendingLimit {
		highest := b.Index
		for idx := range s.pending {
			if idx > highest {
				highest = idx
			}
		}
		if highest == b.Index {
			BlocksRejected.WithLabelValues("evicted").Inc()
			return
		}
		delete(s.pending, highest)
		BlocksRejected.WithLabelValues("evicted").Inc()
	}
	s.pending[b.Index] = b.Clone()
	PendingBlocksGauge.Set(float64(len(s.pending)))
	utils.LogDebug("Parked block %d, tip is %d (%d pending)", b.Index, s.tip.Index, len(s.pending))
}

// resync gives up on the gap and connects the lowest parked block, followed
// by whatever parked blocks continue it.
func (s *chainState) resync() int {
	if len(s.pending) == 0 {
		return 0
	}
	var lowest Block
	first := true
	for _, b := range s.pending {
		if first || b.Index < lowest.Index {
			lowest = b
			first = false
		}
	}

	utils.LogWarn("Gap after block %d not closing, jumping to parked block %d", s.tip.Index, lowest.Index)
	ChainResyncs.Inc()

	delete(s.pending, lowest.Index)
	s.connect(lowest)
	s.strikes = 0
	return 1 + s.connectPending()
}
