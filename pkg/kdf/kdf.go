// Package kdf holds the key derivation steps shared by the key agreement and
// the ratchet. Every function is pure and deterministic.
package kdf

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32
	// MaxSize is the most HKDF-SHA256 can produce for a single call.
	MaxSize = 255 * sha256.Size
)

var (
	ErrInvalidSize = errors.New("invalid output size")

	rootInfo = []byte("vault-ratchet-root")

	messageKeyConst = []byte{0x01}
	chainKeyConst   = []byte{0x02}
)

// Expand runs HKDF-SHA256 (RFC 5869) extract and expand in one go. A nil salt
// is the same as a zero-filled one of hash length.
func Expand(ikm, salt, info []byte, size int) ([]byte, error) {
	if size <= 0 || size > MaxSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// ChainStep advances a symmetric chain key, returning the next chain key and
// the message key for the current position.
func ChainStep(ck []byte) (next, mk []byte) {
	h := hmac.New(sha256.New, ck)
	h.Write(messageKeyConst)
	mk = h.Sum(nil)

	h.Reset()
	h.Write(chainKeyConst)
	next = h.Sum(nil)
	return next, mk
}

// RootStep mixes a fresh Diffie-Hellman output into the root key and returns
// the new root key together with a new chain key.
func RootStep(rk, dhOut []byte) (root, chain []byte, err error) {
	out, err := Expand(dhOut, rk, rootInfo, 2*KeySize)
	if err != nil {
		return nil, nil, err
	}
	return out[:KeySize:KeySize], out[KeySize:], nil
}
