// mempool/mempool.go
package mempool

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"powgossip_go/blockchain"
)

var (
	// ErrCoinbase is returned when a coinbase is submitted; only miners create them.
	ErrCoinbase = errors.New("coinbase transactions cannot be submitted")
	// ErrEmptyTx is returned for a transaction without inputs or outputs.
	ErrEmptyTx = errors.New("transaction needs at least one input and one output")
	// ErrFull is returned when the mempool is at capacity.
	ErrFull = errors.New("mempool is full")
)

// DefaultCapacity is the number of transactions a mempool holds unless told otherwise.
const DefaultCapacity = 10_000

var mempoolSizeGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "powgossip",
		Subsystem: "mempool",
		Name:      "size",
		Help:      "Number of pending transactions.",
	},
)

// Mempool holds pending transactions keyed by txid
type Mempool struct {
	items    map[blockchain.Hash]blockchain.Tx
	capacity int
	mutex    sync.RWMutex
}

// NewMempool creates a new mempool
func NewMempool(capacity int) *Mempool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mempool{
		items:    make(map[blockchain.Hash]blockchain.Tx),
		capacity: capacity,
	}
}

// AddTx checks the transaction shape and txid and stores it. Re-adding a known
// txid is a no-op.
func (mp *Mempool) AddTx(tx blockchain.Tx) error {
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return ErrEmptyTx
	}
	if tx.IsCoinbase() {
		return ErrCoinbase
	}
	if err := tx.VerifyTxid(); err != nil {
		return err
	}

	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	if _, exists := mp.items[tx.Txid]; exists {
		return nil
	}
	if len(mp.items) >= mp.capacity {
		return fmt.Errorf("%w (%d transactions)", ErrFull, mp.capacity)
	}
	mp.items[tx.Txid] = tx.Clone()
	mempoolSizeGauge.Set(float64(len(mp.items)))
	return nil
}

// GetTx retrieves a transaction from the mempool
func (mp *Mempool) GetTx(txid blockchain.Hash) (blockchain.Tx, bool) {
	mp.mutex.RLock()
	defer mp.mutex.RUnlock()

	tx, exists := mp.items[txid]
	if !exists {
		return blockchain.Tx{}, false
	}
	return tx.Clone(), true
}

// RemoveTx removes a transaction from the mempool
func (mp *Mempool) RemoveTx(txid blockchain.Hash) {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	delete(mp.items, txid)
	mempoolSizeGauge.Set(float64(len(mp.items)))
}

// RemoveIncluded drops every transaction carried by the block and returns how
// many were removed
func (mp *Mempool) RemoveIncluded(block blockchain.Block) int {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	removed := 0
	for _, tx := range block.Transactions {
		if _, ok := mp.items[tx.Txid]; ok {
			delete(mp.items, tx.Txid)
			removed++
		}
	}
	mempoolSizeGauge.Set(float64(len(mp.items)))
	return removed
}

// SelectForBlock returns up to limit transactions to place after the coinbase,
// in txid order, with the fees they pay. Without a UTXO set fees cannot be
// derived, so they are always zero. A limit of zero selects nothing.
func (mp *Mempool) SelectForBlock(limit int) ([]blockchain.Tx, uint64) {
	if limit <= 0 {
		return nil, 0
	}

	txs := mp.GetAllTxs()
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, 0
}

// GetAllTxs returns all transactions in txid order (for API/debug purposes)
func (mp *Mempool) GetAllTxs() []blockchain.Tx {
	mp.mutex.RLock()
	result := make([]blockchain.Tx, 0, len(mp.items))
	for _, tx := range mp.items {
		result = append(result, tx.Clone())
	}
	mp.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Txid[:], result[j].Txid[:]) < 0
	})
	return result
}

// GetSize returns the number of transactions in the mempool
func (mp *Mempool) GetSize() int {
	mp.mutex.RLock()
	defer mp.mutex.RUnlock()

	return len(mp.items)
}

// Clear removes all transactions from the mempool
func (mp *Mempool) Clear() {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	mp.items = make(map[blockchain.Hash]blockchain.Tx)
	mempoolSizeGauge.Set(0)
}
