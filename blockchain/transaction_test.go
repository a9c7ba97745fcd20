package blockchain

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func coinbaseWithFiller(fill byte, amount uint64) Tx {
	var sig Signature
	for i := range sig {
		sig[i] = fill
	}
	return NewTx(
		[]Input{{Signature: sig}},
		[]Output{{Amount: amount, Address: DefaultRewardAddress()}},
	)
}

func TestTxidDeterministic(t *testing.T) {
	a := coinbaseWithFiller(1, BlockReward)
	b := coinbaseWithFiller(1, BlockReward)
	require.Equal(t, a.Txid, b.Txid)
	require.NoError(t, a.VerifyTxid())
}

func TestTxidDiffersWithFiller(t *testing.T) {
	a := coinbaseWithFiller(1, BlockReward)
	b := coinbaseWithFiller(2, BlockReward)
	require.NotEqual(t, a.Txid, b.Txid)
}

func TestTxidUniqueProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s1, s2 Signature
		copy(s1[:], rapid.SliceOfN(rapid.Byte(), SignatureSize, SignatureSize).Draw(t, "s1"))
		copy(s2[:], rapid.SliceOfN(rapid.Byte(), SignatureSize, SignatureSize).Draw(t, "s2"))
		outs := []Output{{Amount: BlockReward, Address: DefaultRewardAddress()}}

		id1 := GenerateTxid([]Input{{Signature: s1}}, outs)
		id2 := GenerateTxid([]Input{{Signature: s2}}, outs)
		if (s1 == s2) != (id1 == id2) {
			t.Fatalf("fillers equal=%v but txids equal=%v", s1 == s2, id1 == id2)
		}
	})
}

func TestTxidCoversOutputs(t *testing.T) {
	a := coinbaseWithFiller(7, BlockReward)
	b := coinbaseWithFiller(7, BlockReward+1)
	require.NotEqual(t, a.Txid, b.Txid)
}

func TestVerifyTxidDetectsTampering(t *testing.T) {
	tx := coinbaseWithFiller(3, BlockReward)
	tx.Outputs[0].Amount = 1
	require.ErrorIs(t, tx.VerifyTxid(), ErrTxidMismatch)
}

func TestCanonicalEncodingLayout(t *testing.T) {
	tx := coinbaseWithFiller(9, 258)
	enc := EncodeTxContent(tx.Inputs, tx.Outputs)
	require.Len(t, enc, 4+HashSize+SignatureSize+4+8+AddressSize)

	require.Equal(t, []byte{0, 0, 0, 1}, enc[:4])
	outStart := 4 + HashSize + SignatureSize
	require.Equal(t, []byte{0, 0, 0, 1}, enc[outStart:outStart+4])
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, enc[outStart+4:outStart+12])
}

func TestIsCoinbaseAndTotal(t *testing.T) {
	tx := coinbaseWithFiller(5, BlockReward)
	require.True(t, tx.IsCoinbase())
	require.Equal(t, BlockReward, tx.TotalOutput())

	spend := NewTx([]Input{{Txid: tx.Txid}}, []Output{{Amount: 10}, {Amount: 20}})
	require.False(t, spend.IsCoinbase())
	require.Equal(t, uint64(30), spend.TotalOutput())
}

func TestCloneIsDeep(t *testing.T) {
	tx := coinbaseWithFiller(5, BlockReward)
	b := Block{Transactions: []Tx{tx}}
	c := b.Clone()
	c.Transactions[0].Outputs[0].Amount = 0
	require.Equal(t, BlockReward, b.Transactions[0].Outputs[0].Amount)
}
