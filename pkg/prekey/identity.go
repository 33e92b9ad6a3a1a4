// Package prekey generates and serializes the long-term and medium-term key
// material a device publishes so that others can start sessions with it.
package prekey

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/internal/wire"
	"github.com/kamune-org/vault/pkg/attest"
	"github.com/kamune-org/vault/pkg/exchange"
)

var (
	ErrUntrustedBundle = errors.New("untrusted pre-key bundle")
	ErrUnknownPreKey   = errors.New("unknown pre-key")
	ErrInvalidRecord   = errors.New("invalid pre-key record")
)

// Identity is a device's long-term key pair: an X25519 key for the key
// agreement and a signing key that vouches for the pre-keys.
type Identity struct {
	DH     *exchange.KeyPair
	Signer attest.Attester
}

// PublicIdentity is what peers learn about an Identity.
type PublicIdentity struct {
	DH         [exchange.KeySize]byte
	Algorithm  attest.Algorithm
	SigningKey []byte
}

func GenerateIdentity(alg attest.Algorithm) (*Identity, error) {
	return generateIdentity(alg, rand.Reader)
}

func generateIdentity(alg attest.Algorithm, r io.Reader) (*Identity, error) {
	dh, err := exchange.NewKeyPairFrom(r)
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	signer, err := alg.NewFrom(r)
	if err != nil {
		dh.Wipe()
		return nil, fmt.Errorf("generating identity: %w: %w", exchange.ErrKeyGeneration, err)
	}
	return &Identity{DH: dh, Signer: signer}, nil
}

func (id *Identity) Public() PublicIdentity {
	return PublicIdentity{
		DH:         id.DH.PublicKey,
		Algorithm:  id.Signer.Algorithm(),
		SigningKey: id.Signer.PublicKey().Marshal(),
	}
}

func (id *Identity) Wipe() {
	if id == nil {
		return
	}
	id.DH.Wipe()
	if id.Signer != nil {
		id.Signer.Wipe()
	}
}

const (
	identityDH protowire.Number = iota + 1
	identityAlgorithm
	identitySigner
)

// MarshalBinary encodes the private identity. The output holds secret keys
// and must only be stored encrypted.
func (id *Identity) MarshalBinary() ([]byte, error) {
	signer, err := id.Signer.MarshalPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("marshalling signing key: %w", err)
	}
	defer memzero.Zero(signer)
	dh := id.DH.MarshalPrivateKey()
	defer memzero.Zero(dh)

	var e wire.Encoder
	e.Bytes(identityDH, dh).
		Uint(identityAlgorithm, uint64(id.Signer.Algorithm())).
		Bytes(identitySigner, signer)
	return e.Encode(), nil
}

func UnmarshalIdentity(b []byte) (*Identity, error) {
	var (
		dh, signer []byte
		alg        attest.Algorithm
	)
	defer func() { memzero.All(dh, signer) }()
	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case identityDH:
			dh, err = f.Bytes()
		case identityAlgorithm:
			var v uint64
			v, err = f.Uint()
			alg = attest.Algorithm(v)
		case identitySigner:
			signer, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	key, err := exchange.RestoreKeyPair(dh)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	s, err := alg.Load(signer)
	if err != nil {
		key.Wipe()
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return &Identity{DH: key, Signer: s}, nil
}

// Verify checks sig over msg with the identity's signing key.
func (p PublicIdentity) Verify(msg, sig []byte) bool {
	return p.Algorithm.Verify(p.SigningKey, msg, sig)
}

func (p PublicIdentity) Equal(o PublicIdentity) bool {
	return p.DH == o.DH &&
		p.Algorithm == o.Algorithm &&
		bytes.Equal(p.SigningKey, o.SigningKey)
}

const (
	publicDH protowire.Number = iota + 1
	publicAlgorithm
	publicSigningKey
)

func (p PublicIdentity) MarshalBinary() ([]byte, error) {
	var e wire.Encoder
	e.Bytes(publicDH, p.DH[:]).
		Uint(publicAlgorithm, uint64(p.Algorithm)).
		Bytes(publicSigningKey, p.SigningKey)
	return e.Encode(), nil
}

func UnmarshalPublicIdentity(b []byte) (PublicIdentity, error) {
	var p PublicIdentity
	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case publicDH:
			err = f.Fixed(p.DH[:])
		case publicAlgorithm:
			var v uint64
			v, err = f.Uint()
			p.Algorithm = attest.Algorithm(v)
		case publicSigningKey:
			p.SigningKey, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return PublicIdentity{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if !p.Algorithm.Valid() {
		return PublicIdentity{}, fmt.Errorf(
			"%w: unknown signing algorithm %d", ErrInvalidRecord, p.Algorithm,
		)
	}
	return p, nil
}
