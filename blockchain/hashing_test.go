package blockchain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHashBlockDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		index := rapid.Uint32().Draw(t, "index")
		nonce := rapid.Uint64().Draw(t, "nonce")
		var prev Hash
		copy(prev[:], rapid.SliceOfN(rapid.Byte(), HashSize, HashSize).Draw(t, "prev"))

		first := HashBlock(index, prev, nonce)
		second := HashBlock(index, prev, nonce)
		if first != second {
			t.Fatalf("hash changed between calls: %s vs %s", first, second)
		}
	})
}

func TestHashBlockCommitsToEveryField(t *testing.T) {
	g := Genesis()
	base := HashBlock(1, g.Hash, 7)

	require.NotEqual(t, base, HashBlock(2, g.Hash, 7))
	require.NotEqual(t, base, HashBlock(1, Hash{}, 7))
	require.NotEqual(t, base, HashBlock(1, g.Hash, 8))
}

func TestHashCandidateMatchesHashBlock(t *testing.T) {
	g := Genesis()
	for i := 0; i < 32; i++ {
		h, nonce := HashCandidate(1, g.Hash)
		require.Equal(t, HashBlock(1, g.Hash, nonce), h)
	}
}

func TestMeetsTargetBoundary(t *testing.T) {
	var h Hash
	h[7] = 0x10 // prefix == 16

	require.True(t, MeetsTarget(h, 16))
	require.True(t, MeetsTarget(h, 17))
	require.False(t, MeetsTarget(h, 15))
	require.True(t, MeetsTarget(Hash{}, 0))

	var full Hash
	for i := range full {
		full[i] = 0xff
	}
	require.Equal(t, uint64(math.MaxUint64), full.Prefix())
	require.True(t, MeetsTarget(full, math.MaxUint64))
}

// Lower targets must never need fewer attempts on average.
func TestDifficultyIsMonotonic(t *testing.T) {
	const trials = 2000
	prev := Genesis().Hash

	meanAttempts := func(target uint64) float64 {
		total := 0
		for i := 0; i < trials; i++ {
			attempts := 1
			for {
				h, _ := HashCandidate(1, prev)
				if MeetsTarget(h, target) {
					break
				}
				attempts++
			}
			total += attempts
		}
		return float64(total) / trials
	}

	easy := meanAttempts(1 << 62)
	hard := meanAttempts(1 << 59)
	require.GreaterOrEqual(t, hard, easy, "hard target took fewer attempts than easy one")
}

func TestVerifyWork(t *testing.T) {
	g := GenesisWithTarget(1 << 62)
	blk := mineForTest(t, g)

	require.NoError(t, VerifyWork(blk, g.Target))

	t.Run("WrongTarget", func(t *testing.T) {
		require.ErrorIs(t, VerifyWork(blk, GenesisTarget), ErrInvalidWork)
	})

	t.Run("TamperedHash", func(t *testing.T) {
		bad := blk.Clone()
		bad.Hash[31] ^= 0xff
		require.ErrorIs(t, VerifyWork(bad, g.Target), ErrInvalidWork)
	})

	t.Run("TamperedNonce", func(t *testing.T) {
		bad := blk.Clone()
		bad.Nonce++
		require.ErrorIs(t, VerifyWork(bad, g.Target), ErrInvalidWork)
	})

	t.Run("IndexPastMax", func(t *testing.T) {
		top := blk.Clone()
		top.Index = MaxIndex + 1
		for {
			top.Nonce = RandomNonce()
			top.Hash = HashBlock(top.Index, top.PreviousHash, top.Nonce)
			if MeetsTarget(top.Hash, top.Target) {
				break
			}
		}
		require.ErrorIs(t, VerifyWork(top, g.Target), ErrIndexExhausted)

		top.Index = MaxIndex
		top.Hash = HashBlock(top.Index, top.PreviousHash, top.Nonce)
		require.NotErrorIs(t, VerifyWork(top, g.Target), ErrIndexExhausted)
	})

	t.Run("AboveTarget", func(t *testing.T) {
		bad := blk.Clone()
		for {
			bad.Nonce = RandomNonce()
			bad.Hash = HashBlock(bad.Index, bad.PreviousHash, bad.Nonce)
			if !MeetsTarget(bad.Hash, bad.Target) {
				break
			}
		}
		require.ErrorIs(t, VerifyWork(bad, g.Target), ErrInvalidWork)
	})
}

// mineForTest finds a valid child of parent, which must have an easy target.
func mineForTest(t testing.TB, parent Block) Block {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		h, nonce := HashCandidate(parent.Index+1, parent.Hash)
		if MeetsTarget(h, parent.Target) {
			return Block{
				Index:        parent.Index + 1,
				Hash:         h,
				PreviousHash: parent.Hash,
				Transactions: []Tx{},
				Time:         uint64(1_700_000_000 + parent.Index),
				Nonce:        nonce,
				Target:       parent.Target,
			}
		}
	}
	t.Fatalf("no block found on top of %d", parent.Index)
	return Block{}
}
