// Package enigma is the AEAD layer: ChaCha20-Poly1305 with a random 96-bit
// nonce and the authentication tag kept apart from the ciphertext.
package enigma

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/pkg/kdf"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	TagSize   = chacha20poly1305.Overhead
)

var (
	ErrAuthentication     = errors.New("message authentication failed")
	ErrInvalidKeyLength   = errors.New("bad key length")
	ErrInvalidNonceLength = errors.New("bad nonce length")
)

// Sealed is the output of one AEAD encryption.
type Sealed struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
	Tag        [TagSize]byte
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(key, plaintext, ad []byte) (*Sealed, error) {
	return seal(rand.Reader, key, plaintext, ad)
}

func seal(r io.Reader, key, plaintext, ad []byte) (*Sealed, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}
	return SealWithNonce(key, nonce[:], plaintext, ad)
}

// SealWithNonce is the deterministic form of Seal. A nonce must never be used
// twice with the same key.
func SealWithNonce(key, nonce, plaintext, ad []byte) (*Sealed, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceLength
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	out := aead.Seal(nil, nonce, plaintext, ad)
	s := &Sealed{Ciphertext: out[:len(out)-TagSize]}
	copy(s.Nonce[:], nonce)
	copy(s.Tag[:], out[len(out)-TagSize:])
	return s, nil
}

// Open authenticates and decrypts s. Any mismatch of key, nonce, ciphertext,
// tag or associated data returns ErrAuthentication and no plaintext.
func Open(key []byte, s *Sealed, ad []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrAuthentication
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	in := make([]byte, 0, len(s.Ciphertext)+TagSize)
	in = append(in, s.Ciphertext...)
	in = append(in, s.Tag[:]...)
	plaintext, err := aead.Open(nil, s.Nonce[:], in, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305: %w", err)
	}
	return aead, nil
}

// Enigma is a cipher bound to a single derived key, used for data at rest.
// Its output is nonce || ciphertext || tag.
type Enigma struct {
	aead cipher.AEAD
}

func NewEnigma(secret, salt []byte, info string) (*Enigma, error) {
	key, err := kdf.Expand(secret, salt, []byte(info), KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return keyedEnigma(key)
}

// keyedEnigma takes ownership of key and wipes it once the cipher holds its
// own copy.
func keyedEnigma(key []byte) (*Enigma, error) {
	defer memzero.Zero(key)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	return &Enigma{aead: aead}, nil
}

func (e *Enigma) Encrypt(plaintext, ad []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, ad), nil
}

func (e *Enigma) Decrypt(ciphertext, ad []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrAuthentication
	}
	nonce, box := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, box, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
