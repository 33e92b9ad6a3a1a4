package attest

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/crypto/ed25519"

	"github.com/kamune-org/vault/internal/memzero"
)

type Ed25519 struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

func (Ed25519) Algorithm() Algorithm {
	return Ed25519Algorithm
}

func (e Ed25519) PublicKey() PublicKey {
	return &Ed25519PublicKey{e.publicKey}
}

func (e Ed25519) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(e.privateKey, msg), nil
}

// MarshalPrivateKey returns the 32-byte seed.
func (e Ed25519) MarshalPrivateKey() ([]byte, error) {
	return bytes.Clone(e.privateKey.Seed()), nil
}

func (e Ed25519) Wipe() {
	memzero.Zero(e.privateKey)
}

func (Ed25519) Verify(remote PublicKey, msg, sig []byte) bool {
	p, ok := remote.(*Ed25519PublicKey)
	if !ok {
		return false
	}
	return ed25519.Verify(p.key, msg, sig)
}

func (Ed25519) ParsePublicKey(key []byte) (PublicKey, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key length %d", ErrInvalidKey, len(key))
	}
	return &Ed25519PublicKey{key: bytes.Clone(key)}, nil
}

func (Ed25519) LoadPrivateKey(seed []byte) (Attester, error) {
	k, err := loadEd25519(seed)
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (Ed25519) String() string {
	return "ed25519"
}

type Ed25519PublicKey struct {
	key ed25519.PublicKey
}

func (p Ed25519PublicKey) Marshal() []byte {
	return bytes.Clone(p.key)
}

func (p Ed25519PublicKey) Equal(x PublicKey) bool {
	pk, ok := x.(*Ed25519PublicKey)
	if !ok {
		return false
	}
	return p.key.Equal(pk.key)
}

func newEd25519DSA(r io.Reader) (*Ed25519, error) {
	public, private, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &Ed25519{privateKey: private, publicKey: public}, nil
}

func loadEd25519(seed []byte) (*Ed25519, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed length %d", ErrInvalidKey, len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Ed25519{
		privateKey: private,
		publicKey:  private.Public().(ed25519.PublicKey),
	}, nil
}
