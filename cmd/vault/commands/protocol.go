package commands

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/kamune-org/vault/internal/box/pb"
	"github.com/kamune-org/vault/pkg/courier"
)

// frameKind tells what a frame exchanged between two devices carries.
type frameKind uint32

const (
	kindBundleRequest frameKind = iota + 1
	kindBundle
	kindMessage
	kindError
)

func (k frameKind) String() string {
	switch k {
	case kindBundleRequest:
		return "bundle-request"
	case kindBundle:
		return "bundle"
	case kindMessage:
		return "message"
	case kindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

var errUnexpectedFrame = errors.New("unexpected frame")

type frame struct {
	Kind frameKind
	// From is the sender's address, set on message frames.
	From    string
	Payload []byte
}

func (f frame) marshal() ([]byte, error) {
	return proto.Marshal(&pb.Frame{
		Kind:    uint32(f.Kind),
		From:    f.From,
		Payload: f.Payload,
	})
}

func parseFrame(b []byte) (frame, error) {
	var msg pb.Frame
	if err := proto.Unmarshal(b, &msg); err != nil {
		return frame{}, fmt.Errorf("parsing frame: %w", err)
	}
	f := frame{
		Kind:    frameKind(msg.GetKind()),
		From:    msg.GetFrom(),
		Payload: msg.GetPayload(),
	}
	if f.Kind < kindBundleRequest || f.Kind > kindError {
		return f, fmt.Errorf("%w: %s", errUnexpectedFrame, f.Kind)
	}
	return f, nil
}

func writeFrame(c *courier.Conn, f frame) error {
	b, err := f.marshal()
	if err != nil {
		return err
	}
	return c.Write(b)
}

func readFrame(c *courier.Conn) (frame, error) {
	b, err := c.Read()
	if err != nil {
		return frame{}, err
	}
	return parseFrame(b)
}

// roundTrip sends f and waits for the reply, which must be of kind want. An
// error frame from the peer is returned as an error.
func roundTrip(c *courier.Conn, f frame, want frameKind) (frame, error) {
	if err := writeFrame(c, f); err != nil {
		return frame{}, err
	}
	reply, err := readFrame(c)
	if err != nil {
		return frame{}, err
	}
	switch reply.Kind {
	case want:
		return reply, nil
	case kindError:
		return frame{}, fmt.Errorf("peer: %s", reply.Payload)
	default:
		return frame{}, fmt.Errorf("%w: got %s, want %s", errUnexpectedFrame, reply.Kind, want)
	}
}
