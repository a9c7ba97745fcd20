package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/pbkdf2"

	"powgossip_go/blockchain"
	"powgossip_go/utils"
)

const (
	// KeyFileName is the encrypted key file inside the data directory.
	KeyFileName = "node_key.enc"

	saltSize         = 16
	pbkdf2Iterations = 4096
)

// ErrWrongPassphrase is returned when the key file cannot be decrypted.
var ErrWrongPassphrase = errors.New("cannot decrypt node key")

// LocalSigner implements Signer with an Ed25519 key kept encrypted on disk.
type LocalSigner struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    blockchain.Address
}

var _ Signer = (*LocalSigner)(nil)

// NewLocalSigner loads dataDir/node_key.enc, or generates and stores a new key
// when the file does not exist yet.
func NewLocalSigner(dataDir string, passphrase string) (*LocalSigner, error) {
	if dataDir == "" {
		return nil, errors.New("dataDir cannot be empty")
	}
	if passphrase == "" {
		return nil, errors.New("passphrase cannot be empty")
	}

	keyFilePath := filepath.Join(dataDir, KeyFileName)
	var privateKey ed25519.PrivateKey

	if _, err := os.Stat(keyFilePath); os.IsNotExist(err) {
		_, privateKey, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
		}
		if err := saveEncryptedKey(keyFilePath, privateKey, passphrase); err != nil {
			return nil, fmt.Errorf("failed to save encrypted key: %w", err)
		}
		utils.LogInfo("New Ed25519 node key generated and saved to %s", keyFilePath)
	} else {
		decrypted, err := loadAndDecryptKey(keyFilePath, passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load node key: %w", err)
		}
		if len(decrypted) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("node key in %s has %d bytes, want %d", keyFilePath, len(decrypted), ed25519.PrivateKeySize)
		}
		privateKey = ed25519.PrivateKey(decrypted)
		utils.LogInfo("Loaded Ed25519 node key from %s", keyFilePath)
	}

	return newLocalSigner(privateKey), nil
}

// NewEphemeralSigner creates a signer whose key lives only in memory.
func NewEphemeralSigner() (*LocalSigner, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return newLocalSigner(privateKey), nil
}

func newLocalSigner(privateKey ed25519.PrivateKey) *LocalSigner {
	publicKey := privateKey.Public().(ed25519.PublicKey)
	var address blockchain.Address
	copy(address[:], publicKey)
	return &LocalSigner{
		privateKey: privateKey,
		publicKey:  publicKey,
		address:    address,
	}
}

// deriveKey derives a key from a passphrase and salt using PBKDF2.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

// saveEncryptedKey writes salt || nonce || AES-GCM(privateKey) to filePath.
func saveEncryptedKey(filePath string, privateKey ed25519.PrivateKey, passphrase string) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, privateKey, nil)

	encryptedData := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	encryptedData = append(encryptedData, salt...)
	encryptedData = append(encryptedData, nonce...)
	encryptedData = append(encryptedData, ciphertext...)

	if err := os.WriteFile(filePath, encryptedData, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted key to file %s: %w", filePath, err)
	}
	return nil
}

// loadAndDecryptKey reads a file written by saveEncryptedKey.
func loadAndDecryptKey(filePath string, passphrase string) ([]byte, error) {
	encryptedData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted key file %s: %w", filePath, err)
	}
	if len(encryptedData) < saltSize {
		return nil, errors.New("encrypted data is too short to contain salt")
	}
	salt := encryptedData[:saltSize]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < saltSize+nonceSize {
		return nil, errors.New("encrypted data is too short to contain nonce")
	}
	nonce := encryptedData[saltSize : saltSize+nonceSize]
	ciphertext := encryptedData[saltSize+nonceSize:]

	decrypted, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Wrong passphrase and corrupt data look the same here.
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	return decrypted, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Sign signs data using the local private key.
func (ls *LocalSigner) Sign(data []byte) ([]byte, error) {
	if ls.privateKey == nil {
		return nil, errors.New("private key is not initialized")
	}
	return ed25519.Sign(ls.privateKey, data), nil
}

// Verify reports whether sig is this signer's signature over data.
func (ls *LocalSigner) Verify(data, sig []byte) bool {
	return ed25519.Verify(ls.publicKey, data, sig)
}

// PublicKey returns the public key.
func (ls *LocalSigner) PublicKey() []byte {
	return ls.publicKey
}

// Address returns the public key as a reward address.
func (ls *LocalSigner) Address() blockchain.Address {
	return ls.address
}

// Libp2pKey converts the node key for use as the p2p host identity.
func (ls *LocalSigner) Libp2pKey() (crypto.PrivKey, error) {
	key, err := crypto.UnmarshalEd25519PrivateKey(ls.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert node key: %w", err)
	}
	return key, nil
}

// PeerID returns the p2p peer id the node key yields.
func (ls *LocalSigner) PeerID() (peer.ID, error) {
	key, err := ls.Libp2pKey()
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(key)
}
