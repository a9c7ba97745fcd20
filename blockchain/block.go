package blockchain

import (
	"fmt"
	"strings"
	"time"
)

/**
 * Block is a single mined block.
 * Hash commits to Index, PreviousHash and Nonce only; the transaction list
 * travels with the block but is not covered by the proof of work.
 */
type Block struct {
	Index        uint32 `json:"index"`         // Height of the block, genesis is 0
	Hash         Hash   `json:"hash"`          // BLAKE3(index || previous_hash || nonce)
	PreviousHash Hash   `json:"previous_hash"` // Hash of the block this one extends
	Transactions []Tx   `json:"transactions"`  // Coinbase first, then mempool selections
	Time         uint64 `json:"time"`          // Unix seconds at assembly
	Nonce        uint64 `json:"nonce"`         // Nonce that satisfied the target
	Target       uint64 `json:"target"`        // Inherited difficulty target
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	c := b
	if b.Transactions != nil {
		c.Transactions = make([]Tx, len(b.Transactions))
		for i, tx := range b.Transactions {
			c.Transactions[i] = tx.Clone()
		}
	}
	return c
}

// Extends reports whether b directly follows parent.
func (b Block) Extends(parent Block) bool {
	return b.Index == parent.Index+1 && b.PreviousHash == parent.Hash
}

// Timestamp returns the assembly time as a time.Time.
func (b Block) Timestamp() time.Time {
	return time.Unix(int64(b.Time), 0).UTC()
}

// Summary is a one-line description used in logs.
func (b Block) Summary() string {
	return fmt.Sprintf("block #%d hash=%s prev=%s txs=%d",
		b.Index, b.Hash.Short(), b.PreviousHash.Short(), len(b.Transactions))
}

// Describe renders the block in the multi-line form printed when a block is mined
// or accepted.
func (b Block) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Block %d\n", b.Index)
	fmt.Fprintf(&sb, "  hash:     %s\n", b.Hash)
	fmt.Fprintf(&sb, "  previous: %s\n", b.PreviousHash)
	fmt.Fprintf(&sb, "  time:     %d (%s)\n", b.Time, b.Timestamp().Format(time.RFC3339))
	fmt.Fprintf(&sb, "  nonce:    %d\n", b.Nonce)
	fmt.Fprintf(&sb, "  target:   %d\n", b.Target)
	for _, tx := range b.Transactions {
		fmt.Fprintf(&sb, "  tx %s", tx.Txid)
		for _, out := range tx.Outputs {
			fmt.Fprintf(&sb, " -> %d to %s", out.Amount, out.Address.Short())
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
