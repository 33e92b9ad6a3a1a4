package prekey

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kamune-org/vault/internal/wire"
	"github.com/kamune-org/vault/pkg/exchange"
)

// Bundle is the public material a device publishes so that others can
// start a session with it while it is offline. Bundles are immutable once
// built.
type Bundle struct {
	RegistrationID uint32
	DeviceID       uint32
	Identity       PublicIdentity

	SignedPreKeyID        uint32
	SignedPreKey          [exchange.KeySize]byte
	SignedPreKeySignature []byte

	// OneTimePreKey is nil when the owner has run out of one-time keys.
	OneTimePreKeyID uint32
	OneTimePreKey   *[exchange.KeySize]byte

	// KEMPreKey is empty when the owner publishes no post-quantum key.
	KEMPreKeyID        uint32
	KEMPreKey          []byte
	KEMPreKeySignature []byte
}

// NewBundle assembles a bundle from the owner's keys. opk and kem are
// optional.
func NewBundle(
	id *Identity,
	registrationID, deviceID uint32,
	spk *SignedPreKey,
	opk *OneTimePreKey,
	kem *KEMPreKey,
) *Bundle {
	b := &Bundle{
		RegistrationID:        registrationID,
		DeviceID:              deviceID,
		Identity:              id.Public(),
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Key.PublicKey,
		SignedPreKeySignature: append([]byte(nil), spk.Signature...),
	}
	if opk != nil {
		pub := opk.Key.PublicKey
		b.OneTimePreKeyID = opk.ID
		b.OneTimePreKey = &pub
	}
	if kem != nil {
		b.KEMPreKeyID = kem.ID
		b.KEMPreKey = append([]byte(nil), kem.Public...)
		b.KEMPreKeySignature = append([]byte(nil), kem.Signature...)
	}
	return b
}

func (b *Bundle) HasOneTimePreKey() bool {
	return b.OneTimePreKey != nil
}

func (b *Bundle) HasKEMPreKey() bool {
	return len(b.KEMPreKey) > 0
}

// Verify checks the signed pre-key signature and, when present, the KEM
// pre-key signature against the bundle's identity signing key.
func (b *Bundle) Verify() error {
	if !b.Identity.Algorithm.Valid() {
		return fmt.Errorf("%w: unknown signing algorithm", ErrUntrustedBundle)
	}
	if !b.Identity.Verify(signedPreKeyMessage(b.SignedPreKey[:]), b.SignedPreKeySignature) {
		return fmt.Errorf("%w: signed pre-key %d", ErrUntrustedBundle, b.SignedPreKeyID)
	}
	if b.HasKEMPreKey() &&
		!b.Identity.Verify(kemPreKeyMessage(b.KEMPreKey), b.KEMPreKeySignature) {
		return fmt.Errorf("%w: kem pre-key %d", ErrUntrustedBundle, b.KEMPreKeyID)
	}
	return nil
}

// VerifySignedPreKey reports whether every signature in the bundle is valid.
func VerifySignedPreKey(b *Bundle) bool {
	return b != nil && b.Verify() == nil
}

const (
	bundleRegistrationID protowire.Number = iota + 1
	bundleDeviceID
	bundleIdentity
	bundleSignedPreKeyID
	bundleSignedPreKey
	bundleSignedPreKeySignature
	bundleOneTimePreKeyID
	bundleOneTimePreKey
	bundleKEMPreKeyID
	bundleKEMPreKey
	bundleKEMPreKeySignature
)

func (b *Bundle) MarshalBinary() ([]byte, error) {
	identity, err := b.Identity.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var e wire.Encoder
	e.Uint(bundleRegistrationID, uint64(b.RegistrationID)).
		Uint(bundleDeviceID, uint64(b.DeviceID)).
		Bytes(bundleIdentity, identity).
		Uint(bundleSignedPreKeyID, uint64(b.SignedPreKeyID)).
		Bytes(bundleSignedPreKey, b.SignedPreKey[:]).
		Bytes(bundleSignedPreKeySignature, b.SignedPreKeySignature)
	if b.OneTimePreKey != nil {
		e.Uint(bundleOneTimePreKeyID, uint64(b.OneTimePreKeyID)).
			Bytes(bundleOneTimePreKey, b.OneTimePreKey[:])
	}
	if b.HasKEMPreKey() {
		e.Uint(bundleKEMPreKeyID, uint64(b.KEMPreKeyID)).
			Bytes(bundleKEMPreKey, b.KEMPreKey).
			Bytes(bundleKEMPreKeySignature, b.KEMPreKeySignature)
	}
	return e.Encode(), nil
}

// UnmarshalBundle decodes a bundle. It does not verify signatures.
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	err := wire.Decode(data, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case bundleRegistrationID:
			b.RegistrationID, err = f.Uint32()
		case bundleDeviceID:
			b.DeviceID, err = f.Uint32()
		case bundleIdentity:
			var raw []byte
			if raw, err = f.Bytes(); err == nil {
				b.Identity, err = UnmarshalPublicIdentity(raw)
			}
		case bundleSignedPreKeyID:
			b.SignedPreKeyID, err = f.Uint32()
		case bundleSignedPreKey:
			err = f.Fixed(b.SignedPreKey[:])
		case bundleSignedPreKeySignature:
			b.SignedPreKeySignature, err = f.Bytes()
		case bundleOneTimePreKeyID:
			b.OneTimePreKeyID, err = f.Uint32()
		case bundleOneTimePreKey:
			var pub [exchange.KeySize]byte
			if err = f.Fixed(pub[:]); err == nil {
				b.OneTimePreKey = &pub
			}
		case bundleKEMPreKeyID:
			b.KEMPreKeyID, err = f.Uint32()
		case bundleKEMPreKey:
			b.KEMPreKey, err = f.Bytes()
		case bundleKEMPreKeySignature:
			b.KEMPreKeySignature, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if len(b.Identity.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: bundle without identity", ErrInvalidRecord)
	}
	return &b, nil
}
