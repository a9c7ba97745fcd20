package blockchain

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"powgossip_go/utils"
)

// BlockchainDB is the LevelDB block archive
type BlockchainDB struct {
	db        *leveldb.DB
	batchLock sync.Mutex
	path      string
}

// NewBlockchainDB opens (or creates) a LevelDB archive under dataDir
func NewBlockchainDB(dataDir string) (*BlockchainDB, error) {
	dbPath := filepath.Join(dataDir, "blocks-leveldb")

	// Configure database options
	options := &opt.Options{
		BlockCacheCapacity:  32 * 1024 * 1024, // 32MB block cache
		WriteBuffer:         16 * 1024 * 1024, // 16MB write buffer
		CompactionTableSize: 2 * 1024 * 1024,  // 2MB compaction table size
	}

	db, err := leveldb.OpenFile(dbPath, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open block archive: %w", err)
	}

	utils.LogInfo("Block archive (leveldb) initialized at: %s", dbPath)

	return &BlockchainDB{
		db:   db,
		path: dbPath,
	}, nil
}

// NewMemoryArchive returns a LevelDB archive backed by memory only
func NewMemoryArchive() (*BlockchainDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory block archive: %w", err)
	}
	return &BlockchainDB{db: db, path: ":memory:"}, nil
}

// Close closes the database connection
func (bdb *BlockchainDB) Close() error {
	if bdb.db != nil {
		return bdb.db.Close()
	}
	return nil
}

// SaveBlock stores a block by index and by hash in one batch
func (bdb *BlockchainDB) SaveBlock(block *Block) error {
	blockData, err := EncodeBlock(*block)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(indexKey(block.Index), blockData)
	batch.Put(hashKey(block.Hash), blockData)

	bdb.batchLock.Lock()
	defer bdb.batchLock.Unlock()

	// Update the archive height if this is the highest block seen so far
	currentHeight, ok, err := bdb.GetArchiveHeight()
	if err != nil || !ok || block.Index > currentHeight {
		batch.Put([]byte(blockHeightKey), encodeHeight(block.Index))
	}

	if err := bdb.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to save block to archive: %w", err)
	}

	utils.LogDebug("Block %d archived with hash %s", block.Index, block.Hash.Short())
	return nil
}

// GetBlockByIndex retrieves a block by its index
func (bdb *BlockchainDB) GetBlockByIndex(index uint32) (*Block, error) {
	return bdb.get(indexKey(index), fmt.Sprintf("index %d", index))
}

// GetBlockByHash retrieves a block by its hash
func (bdb *BlockchainDB) GetBlockByHash(hash Hash) (*Block, error) {
	return bdb.get(hashKey(hash), "hash "+hash.String())
}

func (bdb *BlockchainDB) get(key []byte, what string) (*Block, error) {
	data, err := bdb.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
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
// was archived yet
func (bdb *BlockchainDB) GetArchiveHeight() (uint32, bool, error) {
	data, err := bdb.db.Get([]byte(blockHeightKey), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
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
