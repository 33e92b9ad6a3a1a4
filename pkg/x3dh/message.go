package x3dh

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kamune-org/vault/internal/wire"
	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/prekey"
)

// InitialMessage carries what the responder needs to repeat the agreement.
// It travels alongside the initiator's first ratchet messages.
type InitialMessage struct {
	RegistrationID uint32
	Identity       prekey.PublicIdentity
	Ephemeral      [exchange.KeySize]byte
	SignedPreKeyID uint32
	// OneTimePreKeyID is nil when no one-time pre-key was used.
	OneTimePreKeyID *uint32
	// KEMPreKeyID is nil when the agreement has no post-quantum part.
	KEMPreKeyID   *uint32
	KEMCiphertext []byte
}

const (
	msgRegistrationID protowire.Number = iota + 1
	msgIdentity
	msgEphemeral
	msgSignedPreKeyID
	msgHasOneTimePreKey
	msgOneTimePreKeyID
	msgHasKEMPreKey
	msgKEMPreKeyID
	msgKEMCiphertext
)

func (m *InitialMessage) MarshalBinary() ([]byte, error) {
	identity, err := m.Identity.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var e wire.Encoder
	e.Uint(msgRegistrationID, uint64(m.RegistrationID)).
		Bytes(msgIdentity, identity).
		Bytes(msgEphemeral, m.Ephemeral[:]).
		Uint(msgSignedPreKeyID, uint64(m.SignedPreKeyID))
	if m.OneTimePreKeyID != nil {
		e.Bool(msgHasOneTimePreKey, true).
			Uint(msgOneTimePreKeyID, uint64(*m.OneTimePreKeyID))
	}
	if m.KEMPreKeyID != nil {
		e.Bool(msgHasKEMPreKey, true).
			Uint(msgKEMPreKeyID, uint64(*m.KEMPreKeyID)).
			Bytes(msgKEMCiphertext, m.KEMCiphertext)
	}
	return e.Encode(), nil
}

func UnmarshalInitialMessage(b []byte) (*InitialMessage, error) {
	var (
		m              InitialMessage
		hasOTK, hasKEM bool
		otk, kem       uint32
		seenEphemeral  bool
	)
	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case msgRegistrationID:
			m.RegistrationID, err = f.Uint32()
		case msgIdentity:
			var raw []byte
			if raw, err = f.Bytes(); err == nil {
				m.Identity, err = prekey.UnmarshalPublicIdentity(raw)
			}
		case msgEphemeral:
			err = f.Fixed(m.Ephemeral[:])
			seenEphemeral = true
		case msgSignedPreKeyID:
			m.SignedPreKeyID, err = f.Uint32()
		case msgHasOneTimePreKey:
			hasOTK, err = f.Bool()
		case msgOneTimePreKeyID:
			otk, err = f.Uint32()
		case msgHasKEMPreKey:
			hasKEM, err = f.Bool()
		case msgKEMPreKeyID:
			kem, err = f.Uint32()
		case msgKEMCiphertext:
			m.KEMCiphertext, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if !seenEphemeral || len(m.Identity.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: missing identity or ephemeral key", ErrInvalidMessage)
	}
	if hasOTK {
		m.OneTimePreKeyID = &otk
	}
	if hasKEM {
		if len(m.KEMCiphertext) == 0 {
			return nil, fmt.Errorf("%w: missing kem ciphertext", ErrInvalidMessage)
		}
		m.KEMPreKeyID = &kem
	}
	return &m, nil
}
