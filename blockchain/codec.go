package blockchain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash is a 32-byte BLAKE3 digest. On the wire it is a JSON array of numbers.
type Hash [HashSize]byte

// Address is a 32-byte output address.
type Address [AddressSize]byte

// Signature is the 64-byte signature field of an input.
type Signature [SignatureSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first eight hex characters, for logs.
func (h Hash) Short() string { return hex.EncodeToString(h[:4]) }

// IsZero reports whether every byte is zero.
func (h Hash) IsZero() bool { return h == Hash{} }

// UnmarshalJSON accepts exactly HashSize numbers in the range 0..255.
func (h *Hash) UnmarshalJSON(data []byte) error {
	return decodeByteArray(data, h[:])
}

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Short returns the first eight hex characters, for logs.
func (a Address) Short() string { return hex.EncodeToString(a[:4]) }

// UnmarshalJSON accepts exactly AddressSize numbers in the range 0..255.
func (a *Address) UnmarshalJSON(data []byte) error {
	return decodeByteArray(data, a[:])
}

func (s Signature) String() string { return hex.EncodeToString(s[:]) }

// UnmarshalJSON accepts exactly SignatureSize numbers in the range 0..255.
func (s *Signature) UnmarshalJSON(data []byte) error {
	return decodeByteArray(data, s[:])
}

// ParseHash decodes a hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, want %d", len(raw), HashSize)
	}
	copy(h[:], raw)
	return h, nil
}

// ParseAddress decodes a hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != AddressSize {
		return a, fmt.Errorf("invalid address length %d, want %d", len(raw), AddressSize)
	}
	copy(a[:], raw)
	return a, nil
}

func decodeByteArray(data []byte, dst []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	if nums == nil {
		return fmt.Errorf("expected array of %d bytes, got null", len(dst))
	}
	if len(nums) != len(dst) {
		return fmt.Errorf("expected array of %d bytes, got %d", len(dst), len(nums))
	}
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, n)
		}
		dst[i] = byte(n)
	}
	return nil
}

// requireFields fails unless every name is a key of the JSON object in data.
func requireFields(data []byte, names ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("expected object, got null")
	}
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("missing field %q", name)
		}
	}
	return nil
}

// MarshalJSON emits an empty array rather than null for a block without transactions.
func (b Block) MarshalJSON() ([]byte, error) {
	type plain Block
	p := plain(b)
	if p.Transactions == nil {
		p.Transactions = []Tx{}
	}
	return json.Marshal(p)
}

// UnmarshalJSON requires every block field to be present.
func (b *Block) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "index", "hash", "previous_hash", "transactions", "time", "nonce", "target"); err != nil {
		return err
	}
	type plain Block
	return json.Unmarshal(data, (*plain)(b))
}

// MarshalJSON emits empty arrays rather than null.
func (t Tx) MarshalJSON() ([]byte, error) {
	type plain Tx
	p := plain(t)
	if p.Inputs == nil {
		p.Inputs = []Input{}
	}
	if p.Outputs == nil {
		p.Outputs = []Output{}
	}
	return json.Marshal(p)
}

// UnmarshalJSON requires every transaction field to be present.
func (t *Tx) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "txid", "inputs", "outputs"); err != nil {
		return err
	}
	type plain Tx
	return json.Unmarshal(data, (*plain)(t))
}

// UnmarshalJSON requires both input fields to be present.
func (in *Input) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "txid", "signature"); err != nil {
		return err
	}
	type plain Input
	return json.Unmarshal(data, (*plain)(in))
}

// UnmarshalJSON requires both output fields to be present.
func (out *Output) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "amount", "address"); err != nil {
		return err
	}
	type plain Output
	return json.Unmarshal(data, (*plain)(out))
}

// EncodeBlock serialises a block into its gossip wire form.
func EncodeBlock(b Block) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal block %d: %w", b.Index, err)
	}
	return data, nil
}

// DecodeBlock parses a gossip payload. Every failure wraps ErrDecode.
func DecodeBlock(data []byte) (Block, error) {
	var b Block
	if len(bytes.TrimSpace(data)) == 0 {
		return b, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}
