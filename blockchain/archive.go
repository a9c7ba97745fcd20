package blockchain

import (
	"fmt"
	"strconv"
)

// Archive backends accepted by OpenArchive.
const (
	ArchiveMemory  = "memory"
	ArchiveLevelDB = "leveldb"
	ArchivePebble  = "pebble"
)

// Database keys prefixes for better organization
const (
	blockHashKeyPrefix  = "blockhash_"  // Prefix for accessing blocks by hash
	blockIndexKeyPrefix = "blockindex_" // Prefix for accessing blocks by index
	blockHeightKey      = "height"      // Key for the highest archived index
)

// BlockArchive records every block that became a tip so it can be served back
// by index or hash. It is write-mostly history; the chain is never rebuilt
// from it.
type BlockArchive interface {
	SaveBlock(b *Block) error
	GetBlockByIndex(index uint32) (*Block, error)
	GetBlockByHash(hash Hash) (*Block, error)
	GetArchiveHeight() (uint32, bool, error)
	Close() error
}

// OpenArchive opens the named backend under dataDir.
func OpenArchive(backend, dataDir string) (BlockArchive, error) {
	switch backend {
	case ArchiveMemory, "":
		return NewMemoryArchive()
	case ArchiveLevelDB:
		return NewBlockchainDB(dataDir)
	case ArchivePebble:
		return NewPebbleArchive(dataDir)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", backend)
	}
}

func indexKey(index uint32) []byte {
	return []byte(blockIndexKeyPrefix + strconv.FormatUint(uint64(index), 10))
}

func hashKey(hash Hash) []byte {
	return []byte(blockHashKeyPrefix + hash.String())
}

func encodeHeight(index uint32) []byte {
	return []byte(strconv.FormatUint(uint64(index), 10))
}

func decodeHeight(data []byte) (uint32, error) {
	h, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse archive height: %w", err)
	}
	return uint32(h), nil
}
