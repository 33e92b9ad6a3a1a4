package prekey

import (
	"crypto/rand"
	"fmt"
	"io"
	"slices"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/internal/wire"
	"github.com/kamune-org/vault/pkg/exchange"
)

const (
	// RotationPeriod is how long a signed pre-key is published before a new
	// one should replace it.
	RotationPeriod = 7 * 24 * time.Hour
	// BatchSize is the default number of one-time pre-keys published at once.
	BatchSize = 100
)

var (
	signedPreKeyPrefix = []byte("vault-signed-prekey")
	kemPreKeyPrefix    = []byte("vault-kem-prekey")
)

// SignedPreKey is a medium-term key whose public half is signed by the
// identity key.
type SignedPreKey struct {
	ID        uint32
	Key       *exchange.KeyPair
	Signature []byte
	CreatedAt time.Time
}

func GenerateSignedPreKey(id *Identity, keyID uint32) (*SignedPreKey, error) {
	return generateSignedPreKey(id, keyID, rand.Reader, time.Now())
}

func generateSignedPreKey(
	id *Identity, keyID uint32, r io.Reader, now time.Time,
) (*SignedPreKey, error) {
	key, err := exchange.NewKeyPairFrom(r)
	if err != nil {
		return nil, fmt.Errorf("generating signed pre-key: %w", err)
	}
	sig, err := id.Signer.Sign(signedPreKeyMessage(key.PublicKey[:]))
	if err != nil {
		key.Wipe()
		return nil, fmt.Errorf("signing pre-key: %w", err)
	}
	return &SignedPreKey{
		ID:        keyID,
		Key:       key,
		Signature: sig,
		CreatedAt: now.UTC().Truncate(time.Second),
	}, nil
}

// Expired reports whether the key is older than maxAge and should be
// rotated. A non-positive maxAge means RotationPeriod.
func (k *SignedPreKey) Expired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = RotationPeriod
	}
	return now.Sub(k.CreatedAt) >= maxAge
}

func (k *SignedPreKey) Clone() *SignedPreKey {
	return &SignedPreKey{
		ID:        k.ID,
		Key:       k.Key.Clone(),
		Signature: slices.Clone(k.Signature),
		CreatedAt: k.CreatedAt,
	}
}

func (k *SignedPreKey) Wipe() {
	if k != nil {
		k.Key.Wipe()
	}
}

func signedPreKeyMessage(public []byte) []byte {
	msg := make([]byte, 0, len(signedPreKeyPrefix)+len(public))
	msg = append(msg, signedPreKeyPrefix...)
	return append(msg, public...)
}

func kemPreKeyMessage(public []byte) []byte {
	msg := make([]byte, 0, len(kemPreKeyPrefix)+len(public))
	msg = append(msg, kemPreKeyPrefix...)
	return append(msg, public...)
}

// OneTimePreKey is consumed by at most one session.
type OneTimePreKey struct {
	ID  uint32
	Key *exchange.KeyPair
}

// GenerateOneTimePreKeys returns count keys with sequential ids starting at
// startID.
func GenerateOneTimePreKeys(count int, startID uint32) ([]*OneTimePreKey, error) {
	return generateOneTimePreKeys(count, startID, rand.Reader)
}

func generateOneTimePreKeys(
	count int, startID uint32, r io.Reader,
) ([]*OneTimePreKey, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative pre-key count: %d", count)
	}
	if uint64(startID)+uint64(count) > 1<<32 {
		return nil, fmt.Errorf("pre-key ids overflow from %d", startID)
	}
	keys := make([]*OneTimePreKey, 0, count)
	for i := range count {
		key, err := exchange.NewKeyPairFrom(r)
		if err != nil {
			for _, k := range keys {
				k.Wipe()
			}
			return nil, fmt.Errorf("generating one-time pre-key: %w", err)
		}
		keys = append(keys, &OneTimePreKey{ID: startID + uint32(i), Key: key})
	}
	return keys, nil
}

func (k *OneTimePreKey) Clone() *OneTimePreKey {
	return &OneTimePreKey{ID: k.ID, Key: k.Key.Clone()}
}

func (k *OneTimePreKey) Wipe() {
	if k != nil {
		k.Key.Wipe()
	}
}

// KEMPreKey is a signed post-quantum pre-key. It is a last-resort key and may
// be used by many sessions.
type KEMPreKey struct {
	ID        uint32
	Public    []byte
	private   []byte
	Signature []byte
}

func GenerateKEMPreKey(id *Identity, keyID uint32) (*KEMPreKey, error) {
	return generateKEMPreKey(id, keyID, exchange.MLKEM768{}, rand.Reader)
}

func generateKEMPreKey(
	id *Identity, keyID uint32, kem exchange.KEM, r io.Reader,
) (*KEMPreKey, error) {
	public, private, err := kem.GenerateKeyPair(r)
	if err != nil {
		return nil, fmt.Errorf("generating kem pre-key: %w", err)
	}
	sig, err := id.Signer.Sign(kemPreKeyMessage(public))
	if err != nil {
		memzero.Zero(private)
		return nil, fmt.Errorf("signing kem pre-key: %w", err)
	}
	return &KEMPreKey{ID: keyID, Public: public, private: private, Signature: sig}, nil
}

func (k *KEMPreKey) Private() []byte {
	return k.private
}

func (k *KEMPreKey) Clone() *KEMPreKey {
	return &KEMPreKey{
		ID:        k.ID,
		Public:    slices.Clone(k.Public),
		private:   slices.Clone(k.private),
		Signature: slices.Clone(k.Signature),
	}
}

func (k *KEMPreKey) Wipe() {
	if k != nil {
		memzero.Zero(k.private)
	}
}

const (
	keyID protowire.Number = iota + 1
	keyPrivate
	keyPublic
	keySignature
	keyCreatedAt
)

func (k *SignedPreKey) MarshalBinary() ([]byte, error) {
	private := k.Key.MarshalPrivateKey()
	defer memzero.Zero(private)

	var e wire.Encoder
	e.Uint(keyID, uint64(k.ID)).
		Bytes(keyPrivate, private).
		Bytes(keySignature, k.Signature).
		Int(keyCreatedAt, k.CreatedAt.Unix())
	return e.Encode(), nil
}

func UnmarshalSignedPreKey(b []byte) (*SignedPreKey, error) {
	var (
		k       SignedPreKey
		private []byte
		created int64
	)
	defer func() { memzero.Zero(private) }()
	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case keyID:
			k.ID, err = f.Uint32()
		case keyPrivate:
			private, err = f.Bytes()
		case keySignature:
			k.Signature, err = f.Bytes()
		case keyCreatedAt:
			created, err = f.Int()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if k.Key, err = exchange.RestoreKeyPair(private); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	k.CreatedAt = time.Unix(created, 0).UTC()
	return &k, nil
}

func (k *OneTimePreKey) MarshalBinary() ([]byte, error) {
	private := k.Key.MarshalPrivateKey()
	defer memzero.Zero(private)

	var e wire.Encoder
	e.Uint(keyID, uint64(k.ID)).Bytes(keyPrivate, private)
	return e.Encode(), nil
}

func UnmarshalOneTimePreKey(b []byte) (*OneTimePreKey, error) {
	var (
		k       OneTimePreKey
		private []byte
	)
	defer func() { memzero.Zero(private) }()
	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case keyID:
			k.ID, err = f.Uint32()
		case keyPrivate:
			private, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if k.Key, err = exchange.RestoreKeyPair(private); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return &k, nil
}

func (k *KEMPreKey) MarshalBinary() ([]byte, error) {
	var e wire.Encoder
	e.Uint(keyID, uint64(k.ID)).
		Bytes(keyPrivate, k.private).
		Bytes(keyPublic, k.Public).
		Bytes(keySignature, k.Signature)
	return e.Encode(), nil
}

func UnmarshalKEMPreKey(b []byte) (*KEMPreKey, error) {
	var k KEMPreKey
	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case keyID:
			k.ID, err = f.Uint32()
		case keyPrivate:
			k.private, err = f.Bytes()
		case keyPublic:
			k.Public, err = f.Bytes()
		case keySignature:
			k.Signature, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if len(k.private) == 0 || len(k.Public) == 0 {
		return nil, fmt.Errorf("%w: missing kem key", ErrInvalidRecord)
	}
	return &k, nil
}
