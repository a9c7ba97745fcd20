package miner

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"

	"powgossip_go/blockchain"
)

// checkInterval is the number of hashes a worker computes between looking at
// the context and the shared found flag.
const checkInterval = 4096

// Solution is a nonce that satisfies the target.
type Solution struct {
	Hash     blockchain.Hash
	Nonce    uint64
	Attempts uint64
}

// Search draws random nonces on workers goroutines until one hashes
// (index, prevHash, nonce) to a value at or below target. It only returns
// early when ctx is done.
func Search(ctx context.Context, index uint32, prevHash blockchain.Hash, target uint64, workers int) (Solution, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		found    atomic.Bool
		attempts atomic.Uint64
		wg       sync.WaitGroup
		result   = make(chan Solution, 1)
	)

	for w := 0; w < workers; w++ {
		src, err := newNonceSource()
		if err != nil {
			return Solution{}, err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			for !found.Load() {
				if ctx.Err() != nil {
					return
				}
				for i := 0; i < checkInterval; i++ {
					nonce := src.Uint64()
					h := blockchain.HashBlock(index, prevHash, nonce)
					if blockchain.MeetsTarget(h, target) {
						attempts.Add(uint64(i + 1))
						HashesAttempted.Add(float64(i + 1))
						if found.CompareAndSwap(false, true) {
							result <- Solution{Hash: h, Nonce: nonce}
						}
						return
					}
				}
				attempts.Add(checkInterval)
				HashesAttempted.Add(checkInterval)
			}
		}()
	}

	wg.Wait()

	select {
	case sol := <-result:
		sol.Attempts = attempts.Load()
		return sol, nil
	default:
		return Solution{}, ctx.Err()
	}
}

// newNonceSource seeds a per-worker ChaCha8 stream from the system CSPRNG so
// workers never share state or repeat each other's nonces.
func newNonceSource() (*rand.Rand, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed nonce source: %w", err)
	}
	return rand.New(rand.NewChaCha8(seed)), nil
}
