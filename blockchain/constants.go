package blockchain

import "math"

const (
	// HashSize is the length of block hashes and transaction ids.
	HashSize = 32
	// AddressSize is the length of an output address.
	AddressSize = 32
	// SignatureSize is the length of an input signature field.
	SignatureSize = 64
)

const (
	// BlockReward is the amount paid by the coinbase of every mined block, before fees.
	BlockReward uint64 = 5_000_000
	// GenesisNonce is the nonce carried by the hard-coded genesis block.
	GenesisNonce uint64 = 420
	// GenesisDifficultyBits is the number of leading zero bits the genesis target demands.
	GenesisDifficultyBits = 24
	// GenesisTarget is the target inherited by every block mined on top of genesis.
	GenesisTarget uint64 = 1 << (64 - GenesisDifficultyBits)
)

const (
	// DefaultPendingLimit bounds the number of out-of-order blocks a history-retaining
	// chain parks while it waits for a gap to close.
	DefaultPendingLimit = 64
	// DefaultResyncAfter is the number of consecutive unconnectable blocks after which a
	// history-retaining chain jumps to the lowest parked block.
	DefaultResyncAfter = 8
	// subscriberBuffer is the channel capacity handed to each promotion subscriber.
	subscriberBuffer = 64
)

// MaxIndex is the highest index a block may carry. The index is a uint32 and
// a tip at MaxIndex can never be extended.
const MaxIndex uint32 = math.MaxUint32 - 1

// genesisHashByte fills every byte of the genesis hash.
const genesisHashByte = 0x08

// defaultRewardByte fills every byte of the compiled-in reward address.
const defaultRewardByte = 0xbb
