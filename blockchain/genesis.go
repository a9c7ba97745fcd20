package blockchain

import "fmt"

// Genesis returns the hard-coded first block every node starts from.
func Genesis() Block {
	var hash Hash
	for i := range hash {
		hash[i] = genesisHashByte
	}
	return Block{
		Index:        0,
		Hash:         hash,
		PreviousHash: Hash{},
		Transactions: []Tx{},
		Time:         0,
		Nonce:        GenesisNonce,
		Target:       GenesisTarget,
	}
}

// GenesisWithTarget returns the genesis block with a different target. Every
// block mined on top of it inherits that target.
func GenesisWithTarget(target uint64) Block {
	g := Genesis()
	g.Target = target
	return g
}

// DefaultRewardAddress is the compiled-in address miners pay themselves when
// no address is configured.
func DefaultRewardAddress() Address {
	var a Address
	for i := range a {
		a[i] = defaultRewardByte
	}
	return a
}

// ValidateGenesis rejects a block that cannot start a chain.
func ValidateGenesis(g Block) error {
	if g.Index != 0 {
		return fmt.Errorf("%w: index %d", ErrInvalidGenesis, g.Index)
	}
	if g.Target == 0 {
		return fmt.Errorf("%w: zero target", ErrInvalidGenesis)
	}
	return nil
}
