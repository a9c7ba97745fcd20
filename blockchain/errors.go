package blockchain

import "errors"

var (
	// ErrDecode is returned for any payload that is not a well-formed block.
	ErrDecode = errors.New("block decode failed")
	// ErrInvalidWork is returned when a block's header does not carry valid proof of work.
	ErrInvalidWork = errors.New("invalid proof of work")
	// ErrTxidMismatch is returned when a transaction id does not match its content.
	ErrTxidMismatch = errors.New("txid does not match transaction content")
	// ErrInvalidGenesis is returned when a chain is constructed from a bad genesis block.
	ErrInvalidGenesis = errors.New("invalid genesis block")
	// ErrChainStopped is returned by chain state calls made after Stop.
	ErrChainStopped = errors.New("chain state stopped")
	// ErrIndexExhausted is returned for blocks past MaxIndex and when mining on a
	// tip that has no successor index.
	ErrIndexExhausted = errors.New("block index exhausted")
	// ErrNotFound is returned by archive and history lookups that miss.
	ErrNotFound = errors.New("not found")
)
