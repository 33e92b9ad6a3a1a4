package vault

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/kamune-org/vault/internal/box/pb"
	"github.com/kamune-org/vault/pkg/ratchet"
	"github.com/kamune-org/vault/pkg/x3dh"
)

// Message is what a session hands to the transport. Initial is set on the
// initiator's messages until the peer has replied.
type Message struct {
	Initial  *x3dh.InitialMessage
	Envelope *ratchet.Envelope
}

func (m *Message) MarshalBinary() ([]byte, error) {
	if m.Envelope == nil {
		return nil, fmt.Errorf("%w: missing envelope", ErrInvalidEnvelope)
	}
	env, err := m.Envelope.MarshalBinary()
	if err != nil {
		return nil, err
	}

	msg := &pb.Message{Envelope: env}
	if m.Initial != nil {
		if msg.Initial, err = m.Initial.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshalling initial message: %w", err)
		}
	}
	return proto.Marshal(msg)
}

func UnmarshalMessage(b []byte) (*Message, error) {
	var msg pb.Message
	if err := proto.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if msg.Envelope == nil {
		return nil, fmt.Errorf("%w: missing envelope", ErrInvalidEnvelope)
	}

	var (
		m   Message
		err error
	)
	if msg.Initial != nil {
		if m.Initial, err = x3dh.UnmarshalInitialMessage(msg.Initial); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		}
	}
	if m.Envelope, err = ratchet.UnmarshalEnvelope(msg.Envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return &m, nil
}
