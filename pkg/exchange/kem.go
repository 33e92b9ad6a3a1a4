package exchange

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// KEM is a key encapsulation mechanism mixed into the initial agreement for
// post-quantum protection.
type KEM interface {
	GenerateKeyPair(r io.Reader) (public, private []byte, err error)
	Encapsulate(r io.Reader, public []byte) (ciphertext, secret []byte, err error)
	Decapsulate(private, ciphertext []byte) ([]byte, error)
	String() string
}

// MLKEM768 is ML-KEM-768 (FIPS 203).
type MLKEM768 struct{}

func (MLKEM768) GenerateKeyPair(r io.Reader) ([]byte, []byte, error) {
	if r == nil {
		r = rand.Reader
	}
	pk, sk, err := mlkem768.GenerateKeyPair(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ml-kem-768: %w", ErrKeyGeneration, err)
	}

	public, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling public key: %w", err)
	}
	private, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling private key: %w", err)
	}
	return public, private, nil
}

func (MLKEM768) Encapsulate(r io.Reader, public []byte) ([]byte, []byte, error) {
	if r == nil {
		r = rand.Reader
	}
	if len(public) != mlkem768.PublicKeySize {
		return nil, nil, fmt.Errorf("%w: ml-kem-768 public key length %d", ErrInvalidKey, len(public))
	}
	pk := new(mlkem768.PublicKey)
	if err := pk.Unpack(public); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, nil, fmt.Errorf("%w: reading encapsulation seed: %w", ErrKeyGeneration, err)
	}
	ct := make([]byte, mlkem768.CiphertextSize)
	ss := make([]byte, mlkem768.SharedKeySize)
	pk.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}

func (MLKEM768) Decapsulate(private, ciphertext []byte) ([]byte, error) {
	if len(private) != mlkem768.PrivateKeySize {
		return nil, fmt.Errorf("%w: ml-kem-768 private key length %d", ErrInvalidKey, len(private))
	}
	if len(ciphertext) != mlkem768.CiphertextSize {
		return nil, fmt.Errorf("%w: ml-kem-768 ciphertext length %d", ErrInvalidKey, len(ciphertext))
	}
	sk := new(mlkem768.PrivateKey)
	if err := sk.Unpack(private); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	ss := make([]byte, mlkem768.SharedKeySize)
	sk.DecapsulateTo(ss, ciphertext)
	return ss, nil
}

func (MLKEM768) String() string {
	return "ml-kem-768"
}
