package attest

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	"github.com/kamune-org/vault/internal/memzero"
)

// mldsaContext separates identity signatures from any other use of the key.
var mldsaContext = []byte("vault-identity")

// MLDSA is an ML-DSA-65 identity key. Only the seed is kept in serialized
// form; the expanded key is rebuilt from it on load.
type MLDSA struct {
	seed    *[mldsa65.SeedSize]byte
	public  *mldsa65.PublicKey
	private *mldsa65.PrivateKey
}

func (*MLDSA) Algorithm() Algorithm {
	return MLDSAAlgorithm
}

func (m *MLDSA) PublicKey() PublicKey {
	return &MLDSAPublicKey{m.public}
}

func (m *MLDSA) Sign(msg []byte) ([]byte, error) {
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(m.private, msg, mldsaContext, true, sig); err != nil {
		return nil, fmt.Errorf("mldsa sign: %w", err)
	}
	return sig, nil
}

// MarshalPrivateKey returns the 32-byte seed.
func (m *MLDSA) MarshalPrivateKey() ([]byte, error) {
	return append([]byte(nil), m.seed[:]...), nil
}

// Wipe clears the seed. circl keeps the expanded key in unexported fields,
// which stay until collected.
func (m *MLDSA) Wipe() {
	memzero.Zero(m.seed[:])
}

func (MLDSA) Verify(remote PublicKey, msg, sig []byte) bool {
	p, ok := remote.(*MLDSAPublicKey)
	if !ok {
		return false
	}
	return mldsa65.Verify(p.key, msg, mldsaContext, sig)
}

func (MLDSA) ParsePublicKey(key []byte) (PublicKey, error) {
	if len(key) != mldsa65.PublicKeySize {
		return nil, fmt.Errorf("%w: mldsa public key length %d", ErrInvalidKey, len(key))
	}
	var pub mldsa65.PublicKey
	if err := pub.UnmarshalBinary(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return &MLDSAPublicKey{&pub}, nil
}

func (MLDSA) LoadPrivateKey(seed []byte) (Attester, error) {
	if len(seed) != mldsa65.SeedSize {
		return nil, fmt.Errorf("%w: mldsa seed length %d", ErrInvalidKey, len(seed))
	}
	var s [mldsa65.SeedSize]byte
	copy(s[:], seed)
	return fromSeed(&s), nil
}

func (MLDSA) String() string {
	return "mldsa"
}

type MLDSAPublicKey struct {
	key *mldsa65.PublicKey
}

func (p MLDSAPublicKey) Marshal() []byte {
	var buf [mldsa65.PublicKeySize]byte
	p.key.Pack(&buf)
	return buf[:]
}

func (p MLDSAPublicKey) Equal(key PublicKey) bool {
	other, ok := key.(*MLDSAPublicKey)
	return ok && p.key.Equal(other.key)
}

func newMLDSA(r io.Reader) (*MLDSA, error) {
	var seed [mldsa65.SeedSize]byte
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return nil, err
	}
	return fromSeed(&seed), nil
}

func fromSeed(seed *[mldsa65.SeedSize]byte) *MLDSA {
	public, private := mldsa65.NewKeyFromSeed(seed)
	return &MLDSA{seed: seed, public: public, private: private}
}
