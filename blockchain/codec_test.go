package blockchain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sampleCandidate() Block {
	g := Genesis()
	var sig Signature
	for i := range sig {
		sig[i] = byte(i)
	}
	coinbase := NewTx(
		[]Input{{Txid: Hash{}, Signature: sig}},
		[]Output{{Amount: BlockReward, Address: DefaultRewardAddress()}},
	)
	return Block{
		Index:        1,
		Hash:         HashBlock(1, g.Hash, 99),
		PreviousHash: g.Hash,
		Transactions: []Tx{coinbase},
		Time:         1_700_000_000,
		Nonce:        99,
		Target:       g.Target,
	}
}

func TestGenesisRoundTrip(t *testing.T) {
	g := Genesis()
	data, err := EncodeBlock(g)
	require.NoError(t, err)

	decoded, err := DecodeBlock(data)
	require.NoError(t, err)
	require.Equal(t, g, decoded)
}

func TestCandidateRoundTrip(t *testing.T) {
	c := sampleCandidate()
	data, err := EncodeBlock(c)
	require.NoError(t, err)

	decoded, err := DecodeBlock(data)
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

func TestWireFormatFieldNames(t *testing.T) {
	data, err := EncodeBlock(sampleCandidate())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, name := range []string{"index", "hash", "previous_hash", "transactions", "time", "nonce", "target"} {
		require.Contains(t, raw, name)
	}

	// Byte arrays travel as arrays of numbers.
	var hash []int
	require.NoError(t, json.Unmarshal(raw["hash"], &hash))
	require.Len(t, hash, HashSize)

	var prev []int
	require.NoError(t, json.Unmarshal(raw["previous_hash"], &prev))
	for _, b := range prev {
		require.Equal(t, genesisHashByte, b)
	}

	var txs []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["transactions"], &txs))
	require.Len(t, txs, 1)
	require.Contains(t, txs[0], "txid")
	require.Contains(t, txs[0], "inputs")
	require.Contains(t, txs[0], "outputs")
}

func TestEmptyTransactionsEncodeAsArray(t *testing.T) {
	b := Genesis()
	b.Transactions = nil
	data, err := EncodeBlock(b)
	require.NoError(t, err)
	require.Contains(t, string(data), `"transactions":[]`)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	full, err := EncodeBlock(sampleCandidate())
	require.NoError(t, err)

	longHash := strings.Replace(string(full), `"hash":[`, `"hash":[1,`, 1)

	cases := map[string]string{
		"Empty":          "",
		"Truncated":      string(full[:len(full)/2]),
		"NotJSON":        "block please",
		"Null":           "null",
		"MissingField":   `{"index":1}`,
		"HashTooLong":    longHash,
		"ByteOutOfRange": strings.Replace(string(full), `"hash":[`, `"hash":[256,`, 1),
		"IndexOverflow":  strings.Replace(string(full), `"index":1`, `"index":4294967296`, 1),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBlock([]byte(payload))
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodeRejectsShortSignature(t *testing.T) {
	c := sampleCandidate()
	data, err := EncodeBlock(c)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	txs := raw["transactions"].([]any)
	in := txs[0].(map[string]any)["inputs"].([]any)[0].(map[string]any)
	in["signature"] = in["signature"].([]any)[:32]

	tampered, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = DecodeBlock(tampered)
	require.ErrorIs(t, err, ErrDecode)
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var prev Hash
		copy(prev[:], rapid.SliceOfN(rapid.Byte(), HashSize, HashSize).Draw(t, "prev"))
		index := rapid.Uint32().Draw(t, "index")
		nonce := rapid.Uint64().Draw(t, "nonce")

		nTx := rapid.IntRange(0, 3).Draw(t, "txs")
		txs := make([]Tx, 0, nTx)
		for i := 0; i < nTx; i++ {
			var sig Signature
			copy(sig[:], rapid.SliceOfN(rapid.Byte(), SignatureSize, SignatureSize).Draw(t, "sig"))
			var addr Address
			copy(addr[:], rapid.SliceOfN(rapid.Byte(), AddressSize, AddressSize).Draw(t, "addr"))
			txs = append(txs, NewTx(
				[]Input{{Signature: sig}},
				[]Output{{Amount: rapid.Uint64().Draw(t, "amount"), Address: addr}},
			))
		}

		b := Block{
			Index:        index,
			Hash:         HashBlock(index, prev, nonce),
			PreviousHash: prev,
			Transactions: txs,
			Time:         rapid.Uint64().Draw(t, "time"),
			Nonce:        nonce,
			Target:       rapid.Uint64().Draw(t, "target"),
		}

		data, err := EncodeBlock(b)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeBlock(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Hash != b.Hash || got.Index != b.Index || got.Nonce != b.Nonce ||
			got.Time != b.Time || got.Target != b.Target || len(got.Transactions) != len(b.Transactions) {
			t.Fatalf("round trip mismatch: %+v vs %+v", got, b)
		}
		for i := range txs {
			if got.Transactions[i].Txid != txs[i].Txid {
				t.Fatalf("txid %d changed", i)
			}
		}
	})
}

func TestParseHash(t *testing.T) {
	g := Genesis()
	h, err := ParseHash(g.Hash.String())
	require.NoError(t, err)
	require.Equal(t, g.Hash, h)

	_, err = ParseHash("0808")
	require.Error(t, err)
	_, err = ParseHash("zz")
	require.Error(t, err)
}

func TestDescribeShowsReadableTime(t *testing.T) {
	b := sampleCandidate()
	b.Time = 1_700_000_000

	out := b.Describe()
	require.Contains(t, out, "time:     1700000000 (2023-11-14T22:13:20Z)")
	require.Equal(t, int64(1_700_000_000), b.Timestamp().Unix())
	require.True(t, strings.HasPrefix(out, "Block "))
}
