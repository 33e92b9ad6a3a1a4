// Package attest implements the identity signing keys. Keys travel as raw
// bytes so they can be embedded in bundles and persisted records directly.
package attest

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidKey    = errors.New("invalid key")
	ErrKeyGeneration = errors.New("signing key generation failed")
)

type Attester interface {
	Algorithm() Algorithm
	PublicKey() PublicKey
	Sign(msg []byte) ([]byte, error)
	MarshalPrivateKey() ([]byte, error)
	Wipe()
}

type PublicKey interface {
	Marshal() []byte
	Equal(PublicKey) bool
}

// Identifier is the stateless side of an algorithm.
type Identifier interface {
	Verify(remote PublicKey, msg, sig []byte) bool
	ParsePublicKey(key []byte) (PublicKey, error)
	LoadPrivateKey(key []byte) (Attester, error)
	String() string
}

// New generates a fresh signing key from crypto/rand.
func (alg Algorithm) New() (Attester, error) {
	return alg.NewFrom(rand.Reader)
}

func (alg Algorithm) NewFrom(r io.Reader) (Attester, error) {
	var (
		a   Attester
		err error
	)
	switch alg {
	case Ed25519Algorithm:
		a, err = newEd25519DSA(r)
	case MLDSAAlgorithm:
		a, err = newMLDSA(r)
	default:
		panic(fmt.Errorf("attest.New: invalid algorithm: %d", alg))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrKeyGeneration, alg, err)
	}
	return a, nil
}

// Verify parses the raw public key and checks sig over msg. Malformed keys
// simply fail verification.
func (alg Algorithm) Verify(public, msg, sig []byte) bool {
	if !alg.Valid() {
		return false
	}
	id := alg.Identifier()
	pub, err := id.ParsePublicKey(public)
	if err != nil {
		return false
	}
	return id.Verify(pub, msg, sig)
}

func (alg Algorithm) Load(private []byte) (Attester, error) {
	if !alg.Valid() {
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidKey, alg)
	}
	return alg.Identifier().LoadPrivateKey(private)
}
