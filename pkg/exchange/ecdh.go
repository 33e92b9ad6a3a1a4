// Package exchange provides the key agreement primitives: X25519 key pairs
// and a pluggable key encapsulation mechanism.
package exchange

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/kamune-org/vault/internal/memzero"
)

const KeySize = curve25519.PointSize

var (
	ErrKeyGeneration = errors.New("key generation failed")
	ErrInvalidKey    = errors.New("invalid key")
)

// KeyPair is an X25519 key pair. The zero value is not usable.
type KeyPair struct {
	PublicKey  [KeySize]byte
	privateKey [KeySize]byte
}

func NewKeyPair() (*KeyPair, error) {
	return NewKeyPairFrom(rand.Reader)
}

// NewKeyPairFrom draws the private scalar from r. Read failures are reported
// as ErrKeyGeneration and never retried.
func NewKeyPairFrom(r io.Reader) (*KeyPair, error) {
	var k KeyPair
	if _, err := io.ReadFull(r, k.privateKey[:]); err != nil {
		return nil, fmt.Errorf("%w: reading randomness: %w", ErrKeyGeneration, err)
	}
	clamp(&k.privateKey)
	if err := k.derivePublic(); err != nil {
		k.Wipe()
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	return &k, nil
}

// RestoreKeyPair reconstructs a key pair from its serialized private key.
func RestoreKeyPair(private []byte) (*KeyPair, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("%w: private key length %d", ErrInvalidKey, len(private))
	}
	var k KeyPair
	copy(k.privateKey[:], private)
	if err := k.derivePublic(); err != nil {
		k.Wipe()
		return nil, fmt.Errorf("restoring key pair: %w", err)
	}
	return &k, nil
}

func (k *KeyPair) MarshalPublicKey() []byte {
	return append([]byte(nil), k.PublicKey[:]...)
}

// MarshalPrivateKey returns a copy of the private scalar. Callers own the
// result and should wipe it once persisted.
func (k *KeyPair) MarshalPrivateKey() []byte {
	return append([]byte(nil), k.privateKey[:]...)
}

// Exchange computes the X25519 shared secret with remote. Low-order remote
// points, which would yield an all-zero secret, are rejected.
func (k *KeyPair) Exchange(remote []byte) ([]byte, error) {
	if len(remote) != KeySize {
		return nil, fmt.Errorf("%w: public key length %d", ErrInvalidKey, len(remote))
	}
	secret, err := curve25519.X25519(k.privateKey[:], remote)
	if err != nil {
		return nil, fmt.Errorf("%w: performing x25519 exchange: %w", ErrInvalidKey, err)
	}
	return secret, nil
}

// Clone returns an independent copy of the key pair.
func (k *KeyPair) Clone() *KeyPair {
	c := *k
	return &c
}

func (k *KeyPair) Wipe() {
	if k == nil {
		return
	}
	memzero.Zero32(&k.privateKey)
}

func (k *KeyPair) derivePublic() error {
	pub, err := curve25519.X25519(k.privateKey[:], curve25519.Basepoint)
	if err != nil {
		return err
	}
	copy(k.PublicKey[:], pub)
	return nil
}

func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
