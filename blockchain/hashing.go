package blockchain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// headerSize is index(4) || previous_hash(32) || nonce(8).
const headerSize = 4 + HashSize + 8

// HashBlock computes BLAKE3(index BE u32 || prevHash || nonce BE u64).
func HashBlock(index uint32, prevHash Hash, nonce uint64) Hash {
	var buf [headerSize]byte
	binary.BigEndian.PutUint32(buf[0:4], index)
	copy(buf[4:4+HashSize], prevHash[:])
	binary.BigEndian.PutUint64(buf[4+HashSize:], nonce)
	return Hash(blake3.Sum256(buf[:]))
}

// HashCandidate draws a uniformly random nonce and returns the resulting hash
// together with that nonce.
func HashCandidate(index uint32, prevHash Hash) (Hash, uint64) {
	nonce := RandomNonce()
	return HashBlock(index, prevHash, nonce), nonce
}

// RandomNonce returns a uniformly random 64-bit nonce.
func RandomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}

// Prefix interprets the first eight bytes of the hash as a big-endian integer.
func (h Hash) Prefix() uint64 {
	return binary.BigEndian.Uint64(h[:8])
}

// MeetsTarget reports whether the hash prefix does not exceed the target.
// Lower targets are harder.
func MeetsTarget(h Hash, target uint64) bool {
	return h.Prefix() <= target
}

// VerifyWork checks a block header: the carried hash must be the hash of the
// header fields, it must meet the block's own target, and that target must be
// the one the local chain expects.
func VerifyWork(b Block, expectedTarget uint64) error {
	if b.Index > MaxIndex {
		return fmt.Errorf("%w: block %d", ErrIndexExhausted, b.Index)
	}
	if b.Target != expectedTarget {
		return fmt.Errorf("%w: block %d target %d, expected %d", ErrInvalidWork, b.Index, b.Target, expectedTarget)
	}
	if got := HashBlock(b.Index, b.PreviousHash, b.Nonce); got != b.Hash {
		return fmt.Errorf("%w: block %d carries hash %s, header hashes to %s", ErrInvalidWork, b.Index, b.Hash.Short(), got.Short())
	}
	if !MeetsTarget(b.Hash, b.Target) {
		return fmt.Errorf("%w: block %d hash %s above target", ErrInvalidWork, b.Index, b.Hash.Short())
	}
	return nil
}
