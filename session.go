package vault

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/kamune-org/vault/internal/box/pb"
	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/ratchet"
	"github.com/kamune-org/vault/pkg/x3dh"
)

// Session is a handle to the session with one peer device. Handles are
// cheap and may be shared between goroutines.
type Session struct {
	store *SessionStore
	s     *session
}

// SessionInfo is a snapshot of a session's progress. It holds no secrets.
type SessionInfo struct {
	Peer Address
	// Sent and Received count messages in the current chains.
	Sent     uint32
	Received uint32
	// PreviousChain is the length of the previous sending chain.
	PreviousChain uint32
	SkippedKeys   int
	// AwaitingReply is set while outgoing messages still carry the initial
	// agreement.
	AwaitingReply bool
	PostQuantum   bool
	CreatedAt     time.Time
}

func (h *Session) Peer() Address {
	return h.s.peer
}

// Encrypt seals plaintext for the peer.
func (h *Session) Encrypt(plaintext []byte) (*Message, error) {
	sess := h.s
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.removed {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sess.peer)
	}
	env, err := sess.state.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	if err := h.store.persist(sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	return &Message{Initial: sess.initial, Envelope: env}, nil
}

// Decrypt opens a message from the peer. Failed messages leave the session
// untouched, so a forged or corrupted message can simply be dropped.
func (h *Session) Decrypt(msg *Message) ([]byte, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidEnvelope)
	}
	sess := h.s
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.removed {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sess.peer)
	}
	plaintext, err := sess.state.Decrypt(msg.Envelope)
	if err != nil {
		return nil, err
	}
	// the peer has the session, so the agreement need not be repeated
	sess.initial = nil

	if err := h.store.persist(sess); err != nil {
		h.store.logger.Warn(
			"persisting session",
			slog.String("peer", sess.peer.String()),
			slog.Any("err", err),
		)
	}
	return plaintext, nil
}

func (h *Session) Info() (SessionInfo, error) {
	sess := h.s
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.removed {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sess.peer)
	}
	ns, nr, pn := sess.state.Counters()
	return SessionInfo{
		Peer:          sess.peer,
		Sent:          ns,
		Received:      nr,
		PreviousChain: pn,
		SkippedKeys:   sess.state.SkippedKeys(),
		AwaitingReply: sess.initial != nil,
		PostQuantum:   sess.postQuantum,
		CreatedAt:     sess.createdAt,
	}, nil
}

type session struct {
	mu    sync.Mutex
	peer  Address
	state *ratchet.State
	// initial is attached to outgoing messages until the peer replies.
	initial *x3dh.InitialMessage
	// base is the ephemeral key of the agreement the session came from.
	base        [exchange.KeySize]byte
	postQuantum bool
	createdAt   time.Time
	removed     bool
}

func (sess *session) sameAgreement(m *x3dh.InitialMessage) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.base == m.Ephemeral
}

// retire marks the session removed and wipes it, waiting for a running
// operation to finish.
func (sess *session) retire() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.removed = true
	sess.wipe()
}

func (sess *session) wipe() {
	if sess.state != nil {
		sess.state.Wipe()
	}
	sess.initial = nil
}

func (sess *session) marshal() ([]byte, error) {
	state, err := sess.state.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshalling ratchet: %w", err)
	}
	defer memzero.Zero(state)

	record := &pb.SessionRecord{
		State:       state,
		Base:        sess.base[:],
		PostQuantum: sess.postQuantum,
		CreatedAt:   timestamppb.New(sess.createdAt),
	}
	if sess.initial != nil {
		if record.Initial, err = sess.initial.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshalling initial message: %w", err)
		}
	}
	return proto.Marshal(record)
}

func unmarshalSession(peer Address, b []byte, opts []ratchet.Option) (*session, error) {
	var record pb.SessionRecord
	if err := proto.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	defer memzero.Zero(record.State)

	if record.State == nil {
		return nil, fmt.Errorf("%w: missing ratchet", ErrInvalidState)
	}
	sess := &session{
		peer:        peer,
		postQuantum: record.GetPostQuantum(),
		createdAt:   record.GetCreatedAt().AsTime(),
	}
	if len(record.Base) != len(sess.base) {
		return nil, fmt.Errorf("%w: base key length %d", ErrInvalidState, len(record.Base))
	}
	copy(sess.base[:], record.Base)

	var err error
	if record.Initial != nil {
		if sess.initial, err = x3dh.UnmarshalInitialMessage(record.Initial); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
	}
	if sess.state, err = ratchet.UnmarshalState(record.State, opts...); err != nil {
		return nil, err
	}
	return sess, nil
}
