package miner

import (
	"crypto/rand"
	"fmt"

	"powgossip_go/blockchain"
)

// GenerateCoinbase pays the block reward plus fees to address. The input's
// signature field is filled with random bytes so two coinbases paying the same
// amount to the same address still get distinct txids; nothing verifies it.
func GenerateCoinbase(fees uint64, address blockchain.Address) (blockchain.Tx, error) {
	var filler blockchain.Signature
	if _, err := rand.Read(filler[:]); err != nil {
		return blockchain.Tx{}, fmt.Errorf("failed to draw coinbase filler: %w", err)
	}

	inputs := []blockchain.Input{{Txid: blockchain.Hash{}, Signature: filler}}
	outputs := []blockchain.Output{{Amount: blockchain.BlockReward + fees, Address: address}}
	return blockchain.NewTx(inputs, outputs), nil
}
