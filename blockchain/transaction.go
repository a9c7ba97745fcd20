package blockchain

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// Input references a previous output. For a coinbase the txid is all zero and
// the signature is random filler that keeps coinbase txids unique; it is never
// checked as a signature.
type Input struct {
	Txid      Hash      `json:"txid"`
	Signature Signature `json:"signature"`
}

// Output pays Amount to Address.
type Output struct {
	Amount  uint64  `json:"amount"`
	Address Address `json:"address"`
}

// Tx is a transaction carried by a block.
type Tx struct {
	Txid    Hash     `json:"txid"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// NewTx builds a transaction and derives its txid from the inputs and outputs.
func NewTx(inputs []Input, outputs []Output) Tx {
	return Tx{
		Txid:    GenerateTxid(inputs, outputs),
		Inputs:  inputs,
		Outputs: outputs,
	}
}

// Clone returns a deep copy of the transaction.
func (t Tx) Clone() Tx {
	c := Tx{Txid: t.Txid}
	if t.Inputs != nil {
		c.Inputs = append([]Input(nil), t.Inputs...)
	}
	if t.Outputs != nil {
		c.Outputs = append([]Output(nil), t.Outputs...)
	}
	return c
}

// IsCoinbase reports whether the transaction has the single zero-txid input
// used for block rewards.
func (t Tx) IsCoinbase() bool {
	return len(t.Inputs) == 1 && t.Inputs[0].Txid.IsZero()
}

// TotalOutput sums the output amounts.
func (t Tx) TotalOutput() uint64 {
	var total uint64
	for _, out := range t.Outputs {
		total += out.Amount
	}
	return total
}

// VerifyTxid checks that the txid matches the transaction content.
func (t Tx) VerifyTxid() error {
	if want := GenerateTxid(t.Inputs, t.Outputs); want != t.Txid {
		return fmt.Errorf("%w: have %s, want %s", ErrTxidMismatch, t.Txid, want)
	}
	return nil
}

// EncodeTxContent writes the canonical binary form of (inputs, outputs):
//
//	u32 len(inputs)  || (txid || signature)*
//	u32 len(outputs) || (amount u64 || address)*
//
// All integers are big-endian.
func EncodeTxContent(inputs []Input, outputs []Output) []byte {
	size := 4 + len(inputs)*(HashSize+SignatureSize) + 4 + len(outputs)*(8+AddressSize)
	buf := make([]byte, 0, size)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(inputs)))
	for _, in := range inputs {
		buf = append(buf, in.Txid[:]...)
		buf = append(buf, in.Signature[:]...)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(outputs)))
	for _, out := range outputs {
		buf = binary.BigEndian.AppendUint64(buf, out.Amount)
		buf = append(buf, out.Address[:]...)
	}
	return buf
}

// GenerateTxid hashes the canonical encoding of the inputs and outputs.
func GenerateTxid(inputs []Input, outputs []Output) Hash {
	return Hash(blake3.Sum256(EncodeTxContent(inputs, outputs)))
}
