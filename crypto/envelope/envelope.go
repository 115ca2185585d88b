// Package envelope seals task payload bodies for a single recipient using
// X25519 key agreement and AES-256-GCM. Coordinators relay envelopes
// opaquely; only the holder of the recipient private key can open one.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"

	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/enclavecode/swarm/coordinator/api"
)

// KeySize is the byte length of X25519 public and private keys.
const KeySize = 32

var hkdfInfo = []byte("swarm-envelope-v1")

// GenerateKey returns a new X25519 private/public key pair. A nil reader
// defaults to crypto/rand.
func GenerateKey(r io.Reader) (priv, pub []byte, err error) {
	if r == nil {
		r = rand.Reader
	}
	priv = make([]byte, KeySize)
	if _, err := io.ReadFull(r, priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// KeyID derives the loggable identifier of a recipient public key. Key
// material itself never appears in logs or ledger payloads.
func KeyID(pub []byte) string {
	digest := sha256.Sum256(pub)
	return hex.EncodeToString(digest[:8])
}

// Seal encrypts plaintext to the recipient public key under a fresh
// ephemeral key. The key id is bound as associated data, so a swapped id
// fails to open.
func Seal(recipientPub, plaintext []byte) (*api.Envelope, error) {
	if len(recipientPub) != KeySize {
		return nil, errors.Errorf("recipient public key must be %d bytes, got %d", KeySize, len(recipientPub))
	}
	ephPriv, ephPub, err := GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return nil, errors.Wrap(err, "key agreement")
	}
	keyID := KeyID(recipientPub)
	aead, err := newAEAD(shared, ephPub, recipientPub)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return &api.Envelope{
		KeyID:        keyID,
		EphemeralPub: ephPub,
		Nonce:        nonce,
		Ciphertext:   aead.Seal(nil, nonce, plaintext, []byte(keyID)),
	}, nil
}

// Open decrypts an envelope with the recipient private key.
func Open(recipientPriv []byte, env *api.Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	if len(recipientPriv) != KeySize {
		return nil, errors.Errorf("recipient private key must be %d bytes, got %d", KeySize, len(recipientPriv))
	}
	recipientPub, err := curve25519.X25519(recipientPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(recipientPriv, env.EphemeralPub)
	if err != nil {
		return nil, errors.Wrap(err, "key agreement")
	}
	aead, err := newAEAD(shared, env.EphemeralPub, recipientPub)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(env.KeyID))
	if err != nil {
		return nil, errors.New("envelope authentication failed")
	}
	return plaintext, nil
}

func newAEAD(shared, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	info := make([]byte, 0, len(hkdfInfo)+2*KeySize)
	info = append(info, hkdfInfo...)
	info = append(info, ephPub...)
	info = append(info, recipientPub...)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, info), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
