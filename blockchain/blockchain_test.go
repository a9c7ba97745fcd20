package blockchain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"powgossip_go/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger(false, true)
	m.Run()
}

// chainBlock builds a block at index on top of prev without searching for work.
func chainBlock(index uint32, prev Hash) Block {
	return Block{
		Index:        index,
		Hash:         HashBlock(index, prev, uint64(index)),
		PreviousHash: prev,
		Transactions: []Tx{},
		Nonce:        uint64(index),
		Target:       GenesisTarget,
	}
}

// sequence builds n blocks on top of genesis.
func sequence(n int) []Block {
	out := make([]Block, 0, n)
	prev := Genesis()
	for i := 1; i <= n; i++ {
		b := chainBlock(uint32(i), prev.Hash)
		out = append(out, b)
		prev = b
	}
	return out
}

func newTestChain(t *testing.T, opts Options) *Blockchain {
	t.Helper()
	bc, err := NewBlockchain(Genesis(), opts)
	require.NoError(t, err)
	t.Cleanup(bc.Stop)
	return bc
}

func tipIndex(t *testing.T, bc *Blockchain) uint32 {
	t.Helper()
	tip, err := bc.CurrentTip(context.Background())
	require.NoError(t, err)
	return tip.Index
}

func TestNewBlockchainRejectsBadGenesis(t *testing.T) {
	g := Genesis()
	g.Index = 3
	_, err := NewBlockchain(g, Options{})
	require.ErrorIs(t, err, ErrInvalidGenesis)
}

func TestMergePolicy(t *testing.T) {
	for _, retain := range []bool{false, true} {
		name := "TipOnly"
		if retain {
			name = "History"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bc := newTestChain(t, Options{RetainHistory: retain})
			blocks := sequence(2)

			res, err := bc.TryPromote(ctx, blocks[0])
			require.NoError(t, err)
			require.Equal(t, Promoted, res.Outcome)
			require.Equal(t, blocks[0].Hash, res.Tip.Hash)
			require.Equal(t, blocks[0].PreviousHash, res.Tip.PreviousHash)

			// Same index again is a duplicate.
			res, err = bc.TryPromote(ctx, blocks[0])
			require.NoError(t, err)
			require.Equal(t, Stale, res.Outcome)

			// Lower index is stale.
			res, err = bc.TryPromote(ctx, Genesis())
			require.NoError(t, err)
			require.Equal(t, Stale, res.Outcome)
			require.Equal(t, uint32(1), tipIndex(t, bc))

			res, err = bc.TryPromote(ctx, blocks[1])
			require.NoError(t, err)
			require.Equal(t, Promoted, res.Outcome)
			require.Equal(t, uint32(2), tipIndex(t, bc))
		})
	}
}

// The tip index is set to the incoming index, never accumulated.
func TestTipIndexIsSetNotAdded(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{})
	blocks := sequence(2)
	for _, b := range blocks {
		_, err := bc.TryPromote(ctx, b)
		require.NoError(t, err)
	}

	// Adding indices would give 1+2=3 here.
	tip, err := bc.CurrentTip(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(2), tip.Index)
	require.Equal(t, blocks[1].Hash, tip.Hash)
}

// A caller whose context ends mid-request either gets the full result of a
// promotion that happened or an error for one that did not.
func TestTryPromoteCanceledMidRequest(t *testing.T) {
	bc := newTestChain(t, Options{})
	blocks := sequence(200)

	for _, b := range blocks {
		ctx, cancel := context.WithCancel(context.Background())
		go cancel()

		res, err := bc.TryPromote(ctx, b)
		tip, tipErr := bc.CurrentTip(context.Background())
		require.NoError(t, tipErr)

		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
			require.NotEqual(t, b.Hash, tip.Hash, "block %d committed after an error", b.Index)
			continue
		}
		require.Equal(t, Promoted, res.Outcome)
		require.Equal(t, b.Hash, res.Tip.Hash)
		require.Equal(t, b.Hash, tip.Hash)
		require.Len(t, res.Connected, 1)
	}
}

func TestTipOnlyAcceptsGaps(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{})
	blocks := sequence(5)

	res, err := bc.TryPromote(ctx, blocks[4])
	require.NoError(t, err)
	require.Equal(t, Promoted, res.Outcome)
	require.Equal(t, uint32(5), tipIndex(t, bc))

	n, err := bc.GetLength(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestConcurrentCandidatesConverge(t *testing.T) {
	for _, retain := range []bool{false, true} {
		for _, order := range [][2]int{{0, 1}, {1, 0}} {
			bc := newTestChain(t, Options{RetainHistory: retain})
			blocks := sequence(2)
			ctx := context.Background()

			_, err := bc.TryPromote(ctx, blocks[order[0]])
			require.NoError(t, err)
			_, err = bc.TryPromote(ctx, blocks[order[1]])
			require.NoError(t, err)

			tip, err := bc.CurrentTip(ctx)
			require.NoError(t, err)
			require.Equal(t, blocks[1].Hash, tip.Hash, "retain=%v order=%v", retain, order)
		}
	}
}

func TestConcurrentPromotersRace(t *testing.T) {
	for _, retain := range []bool{false, true} {
		bc := newTestChain(t, Options{RetainHistory: retain})
		blocks := sequence(2)

		var wg sync.WaitGroup
		for _, b := range blocks {
			wg.Add(1)
			go func(b Block) {
				defer wg.Done()
				if _, err := bc.TryPromote(context.Background(), b); err != nil {
					t.Errorf("promote %d: %v", b.Index, err)
				}
			}(b)
		}
		wg.Wait()

		require.Equal(t, uint32(2), tipIndex(t, bc))
	}
}

func TestHistoryParksAndConnects(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{RetainHistory: true})
	blocks := sequence(4)

	res, err := bc.TryPromote(ctx, blocks[3])
	require.NoError(t, err)
	require.Equal(t, Parked, res.Outcome)
	res, err = bc.TryPromote(ctx, blocks[2])
	require.NoError(t, err)
	require.Equal(t, Parked, res.Outcome)

	pending, err := bc.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending)
	require.Equal(t, uint32(0), tipIndex(t, bc))

	res, err = bc.TryPromote(ctx, blocks[1])
	require.NoError(t, err)
	require.Equal(t, Parked, res.Outcome)

	res, err = bc.TryPromote(ctx, blocks[0])
	require.NoError(t, err)
	require.Equal(t, Promoted, res.Outcome)
	require.Len(t, res.Connected, 4)
	require.Equal(t, uint32(1), res.Connected[0].Index)
	require.Equal(t, uint32(4), res.Connected[3].Index)
	require.Equal(t, uint32(4), res.Tip.Index)

	all, err := bc.GetBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, b := range all {
		require.Equal(t, uint32(i), b.Index)
	}

	pending, err = bc.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestHistoryResyncJumpsGap(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{RetainHistory: true, ResyncAfter: 3})
	blocks := sequence(6)

	// Block 1 never arrives.
	for _, b := range blocks[2:4] {
		res, err := bc.TryPromote(ctx, b)
		require.NoError(t, err)
		require.Equal(t, Parked, res.Outcome)
	}

	res, err := bc.TryPromote(ctx, blocks[5])
	require.NoError(t, err)
	require.Equal(t, Promoted, res.Outcome)
	require.Equal(t, uint32(4), res.Tip.Index, "jumps to lowest parked block and connects its successor")

	res, err = bc.TryPromote(ctx, blocks[4])
	require.NoError(t, err)
	require.Equal(t, Promoted, res.Outcome)
	require.Equal(t, uint32(6), res.Tip.Index)
}

func TestPendingLimitKeepsClosestBlocks(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{RetainHistory: true, PendingLimit: 2})
	blocks := sequence(5)

	for _, idx := range []int{4, 2, 1} { // indices 5, 3, 2
		_, err := bc.TryPromote(ctx, blocks[idx])
		require.NoError(t, err)
	}
	pending, err := bc.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending)

	res, err := bc.TryPromote(ctx, blocks[0])
	require.NoError(t, err)
	require.Equal(t, uint32(3), res.Tip.Index, "block 5 was evicted to make room")
}

func TestGetBlockByIndex(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{RetainHistory: true})
	blocks := sequence(3)
	for _, b := range blocks {
		_, err := bc.TryPromote(ctx, b)
		require.NoError(t, err)
	}

	b, err := bc.GetBlockByIndex(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, blocks[1].Hash, b.Hash)

	_, err = bc.GetBlockByIndex(ctx, 9)
	require.ErrorIs(t, err, ErrNotFound)

	tipOnly := newTestChain(t, Options{})
	_, err = tipOnly.GetBlockByIndex(ctx, 0)
	require.NoError(t, err)
	_, err = tipOnly.GetBlockByIndex(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribeReceivesPromotions(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{RetainHistory: true})
	sub, cancel, err := bc.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	blocks := sequence(3)
	for _, i := range []int{1, 2, 0} {
		_, err := bc.TryPromote(ctx, blocks[i])
		require.NoError(t, err)
	}

	for want := uint32(1); want <= 3; want++ {
		select {
		case b := <-sub:
			require.Equal(t, want, b.Index)
		case <-time.After(time.Second):
			t.Fatalf("no notification for block %d", want)
		}
	}

	cancel()
	_, ok := <-sub
	require.False(t, ok)
}

func TestReturnedTipIsACopy(t *testing.T) {
	ctx := context.Background()
	bc := newTestChain(t, Options{})
	tx := NewTx([]Input{{}}, []Output{{Amount: BlockReward}})
	b := chainBlock(1, Genesis().Hash)
	b.Transactions = []Tx{tx}
	_, err := bc.TryPromote(ctx, b)
	require.NoError(t, err)

	tip, err := bc.CurrentTip(ctx)
	require.NoError(t, err)
	tip.Transactions[0].Outputs[0].Amount = 0

	again, err := bc.CurrentTip(ctx)
	require.NoError(t, err)
	require.Equal(t, BlockReward, again.Transactions[0].Outputs[0].Amount)
}

func TestStoppedChain(t *testing.T) {
	bc, err := NewBlockchain(Genesis(), Options{})
	require.NoError(t, err)
	sub, _, err := bc.Subscribe(context.Background())
	require.NoError(t, err)

	bc.Stop()
	bc.Stop()

	_, err = bc.CurrentTip(context.Background())
	require.ErrorIs(t, err, ErrChainStopped)
	_, ok := <-sub
	require.False(t, ok)
}

func TestCanceledContext(t *testing.T) {
	bc := newTestChain(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bc.TryPromote(ctx, chainBlock(1, Genesis().Hash))
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}

// In tip-only mode the tip always ends at the highest index ever offered.
func TestTipTracksMaximumProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		bc, err := NewBlockchain(Genesis(), Options{})
		if err != nil {
			rt.Fatalf("new chain: %v", err)
		}
		defer bc.Stop()

		indices := rapid.SliceOfN(rapid.Uint32Range(0, 1000), 1, 40).Draw(rt, "indices")
		var highest uint32
		for _, idx := range indices {
			if idx > highest {
				highest = idx
			}
			if _, err := bc.TryPromote(context.Background(), chainBlock(idx, Hash{})); err != nil {
				rt.Fatalf("promote: %v", err)
			}
		}

		tip, err := bc.CurrentTip(context.Background())
		if err != nil {
			rt.Fatalf("tip: %v", err)
		}
		if tip.Index != highest {
			rt.Fatalf("tip %d, want %d", tip.Index, highest)
		}
	})
}

// With history retained, whatever the arrival order, once every block of a
// contiguous run has arrived the chain is contiguous and ends at the last one.
func TestHistoryOrderIndependenceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		blocks := sequence(n)
		perm := rapid.Permutation(blocks).Draw(rt, "order")

		bc, err := NewBlockchain(Genesis(), Options{RetainHistory: true})
		if err != nil {
			rt.Fatalf("new chain: %v", err)
		}
		defer bc.Stop()

		for _, b := range perm {
			if _, err := bc.TryPromote(context.Background(), b); err != nil {
				rt.Fatalf("promote: %v", err)
			}
		}

		all, err := bc.GetBlocks(context.Background())
		if err != nil {
			rt.Fatalf("blocks: %v", err)
		}
		if len(all) != n+1 {
			rt.Fatalf("have %d blocks, want %d", len(all), n+1)
		}
		for i := 1; i < len(all); i++ {
			if !all[i].Extends(all[i-1]) {
				rt.Fatalf("block %d does not extend %d", all[i].Index, all[i-1].Index)
			}
		}
	})
}
