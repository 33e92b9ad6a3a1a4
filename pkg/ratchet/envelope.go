package ratchet

import (
	"encoding/binary"
	"fmt"

	"github.com/kamune-org/vault/internal/enigma"
	"github.com/kamune-org/vault/pkg/exchange"
)

const (
	// HeaderSize is ratchet key, previous chain length and counter.
	HeaderSize = exchange.KeySize + 4 + 4

	envelopeOverhead = HeaderSize + enigma.NonceSize + 4 + enigma.TagSize
)

// Header is sent in the clear and authenticated as associated data.
type Header struct {
	RatchetKey [exchange.KeySize]byte
	// PN is the number of messages in the sender's previous sending chain.
	PN uint32
	// N is the message's position in the current sending chain.
	N uint32
}

func (h Header) MarshalBinary() ([]byte, error) {
	return h.append(make([]byte, 0, HeaderSize)), nil
}

func (h Header) append(b []byte) []byte {
	b = append(b, h.RatchetKey[:]...)
	b = binary.BigEndian.AppendUint32(b, h.PN)
	return binary.BigEndian.AppendUint32(b, h.N)
}

// Envelope is one encrypted message as it travels between devices.
type Envelope struct {
	Header
	Nonce      [enigma.NonceSize]byte
	Ciphertext []byte
	Tag        [enigma.TagSize]byte
}

// MarshalBinary encodes the envelope as
// key || PN || N || nonce || len(ciphertext) || ciphertext || tag,
// all integers big-endian.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	if uint64(len(e.Ciphertext)) > 1<<32-1 {
		return nil, fmt.Errorf("%w: ciphertext too large", ErrInvalidEnvelope)
	}
	b := make([]byte, 0, envelopeOverhead+len(e.Ciphertext))
	b = e.Header.append(b)
	b = append(b, e.Nonce[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(e.Ciphertext)))
	b = append(b, e.Ciphertext...)
	return append(b, e.Tag[:]...), nil
}

func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	if len(b) < envelopeOverhead {
		return nil, fmt.Errorf(
			"%w: %d bytes is shorter than the minimum %d",
			ErrInvalidEnvelope, len(b), envelopeOverhead,
		)
	}
	var e Envelope
	b = b[copy(e.RatchetKey[:], b):]
	e.PN = binary.BigEndian.Uint32(b)
	e.N = binary.BigEndian.Uint32(b[4:])
	b = b[8:]
	b = b[copy(e.Nonce[:], b):]
	size := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint64(len(b)) != uint64(size)+enigma.TagSize {
		return nil, fmt.Errorf(
			"%w: ciphertext length %d does not match payload", ErrInvalidEnvelope, size,
		)
	}
	e.Ciphertext = append([]byte{}, b[:size]...)
	copy(e.Tag[:], b[size:])
	return &e, nil
}

func (e *Envelope) sealed() *enigma.Sealed {
	return &enigma.Sealed{Nonce: e.Nonce, Ciphertext: e.Ciphertext, Tag: e.Tag}
}
