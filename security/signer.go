package security

import (
	"github.com/libp2p/go-libp2p/core/crypto"

	"powgossip_go/blockchain"
)

// Signer is the node's long-lived identity: it signs data, names the address
// mining rewards go to and provides the key the p2p host runs under.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	PublicKey() []byte
	Address() blockchain.Address
	Libp2pKey() (crypto.PrivKey, error)
}
