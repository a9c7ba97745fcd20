package blockchain

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"powgossip_go/utils"
)

// PebbleArchive is a block archive stored in Pebble.
type PebbleArchive struct {
	db        *pebble.DB
	batchLock sync.Mutex
	path      string
}

// NewPebbleArchive opens (or creates) a Pebble archive under dataDir.
func NewPebbleArchive(dataDir string) (*PebbleArchive, error) {
	dbPath := filepath.Join(dataDir, "blocks-pebble")

	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open block archive: %w", err)
	}

	utils.LogInfo("Block archive (pebble) initialized at: %s", dbPath)
	return &PebbleArchive{db: db, path: dbPath}, nil
}

// Close closes the database.
func (pa *PebbleArchive) Close() error {
	return pa.db.Close()
}

// SaveBlock stores a block by index and by hash in one batch.
func (pa *PebbleArchive) SaveBlock(block *Block) error {
	blockData, err := EncodeBlock(*block)
	if err != nil {
		return err
	}

	pa.batchLock.Lock()
	defer pa.batchLock.Unlock()

	batch := pa.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(indexKey(block.Index), blockData, nil); err != nil {
		return fmt.Errorf("failed to stage block: %w", err)
	}
	if err := batch.Set(hashKey(block.Hash), blockData, nil); err != nil {
		return fmt.Errorf("failed to stage block: %w", err)
	}

	currentHeight, ok, err := pa.GetArchiveHeight()
	if err != nil || !ok || block.Index > currentHeight {
		if err := batch.Set([]byte(blockHeightKey), encodeHeight(block.Index), nil); err != nil {
			return fmt.Errorf("failed to stage height: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save block to archive: %w", err)
	}

	utils.LogDebug("Block %d archived with hash %s", block.Index, block.Hash.Short())
	return nil
}

// GetBlockByIndex retrieves a block by its index.
func (pa *PebbleArchive) GetBlockByIndex(index uint32) (*Block, error) {
	return pa.get(indexKey(index), fmt.Sprintf("index %d", index))
}

// GetBlockByHash retrieves a block by its hash.
func (pa *PebbleArchive) GetBlockByHash(hash Hash) (*Block, error) {
	return pa.get(hashKey(hash), "hash "+hash.String())
}

func (pa *PebbleArchive) get(key []byte, what string) (*Block, error) {
	data, err := pa.read(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("block with %s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve block: %w", err)
	}

	block, err := DecodeBlock(data)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GetArchiveHeight returns the highest archived index, and false if nothing
// was archived yet.
func (pa *PebbleArchive) GetArchiveHeight() (uint32, bool, error) {
	data, err := pa.read([]byte(blockHeightKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to retrieve archive height: %w", err)
	}

	height, err := decodeHeight(data)
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}

// read copies the value out, since it is only valid until the closer runs.
func (pa *PebbleArchive) read(key []byte) ([]byte, error) {
	value, closer, err := pa.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}
