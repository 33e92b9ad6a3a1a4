package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/pkg/prekey"
	"github.com/kamune-org/vault/pkg/ratchet"
	"github.com/kamune-org/vault/pkg/x3dh"
)

// SessionStore owns every session of a local device, at most one per peer
// device. It is safe for concurrent use; operations on different peers run
// in parallel and operations on one peer are serialized.
type SessionStore struct {
	identity *prekey.Identity
	logger   *slog.Logger

	persister  SessionPersister
	prekeys    PreKeySource
	fetcher    BundleFetcher
	handshakes HandshakeRecorder

	ratchetOpts   []ratchet.Option
	agreementOpts []x3dh.Option

	mu       sync.RWMutex
	sessions map[Address]*session
	closed   bool
}

type StoreOption func(*SessionStore)

func StoreWithLogger(logger *slog.Logger) StoreOption {
	return func(s *SessionStore) { s.logger = logger }
}

// StoreWithPersister makes sessions survive restarts. Every change to a
// session is written through before the operation returns.
func StoreWithPersister(p SessionPersister) StoreOption {
	return func(s *SessionStore) { s.persister = p }
}

// StoreWithPreKeys is required to accept sessions started by peers.
func StoreWithPreKeys(src PreKeySource) StoreOption {
	return func(s *SessionStore) { s.prekeys = src }
}

// StoreWithFetcher lets GetOrCreate start sessions on demand.
func StoreWithFetcher(f BundleFetcher) StoreOption {
	return func(s *SessionStore) { s.fetcher = f }
}

// StoreWithHandshakeRecorder sets where accepted agreements are remembered.
// By default that is the persister if it is a HandshakeRecorder, or memory.
func StoreWithHandshakeRecorder(r HandshakeRecorder) StoreOption {
	return func(s *SessionStore) { s.handshakes = r }
}

func StoreWithRatchetOptions(opts ...ratchet.Option) StoreOption {
	return func(s *SessionStore) { s.ratchetOpts = append(s.ratchetOpts, opts...) }
}

func StoreWithAgreementOptions(opts ...x3dh.Option) StoreOption {
	return func(s *SessionStore) { s.agreementOpts = append(s.agreementOpts, opts...) }
}

func NewSessionStore(identity *prekey.Identity, opts ...StoreOption) (*SessionStore, error) {
	if identity == nil || identity.DH == nil || identity.Signer == nil {
		return nil, errors.New("session store needs an identity")
	}
	s := &SessionStore{
		identity: identity,
		logger:   slog.Default(),
		sessions: make(map[Address]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handshakes == nil {
		if r, ok := s.persister.(HandshakeRecorder); ok {
			s.handshakes = r
		} else {
			s.handshakes = newMemoryHandshakes()
		}
	}
	return s, nil
}

// GetOrCreate returns the session with peer, restoring it from the persister
// or, failing that, starting a new one from the peer's fetched bundle.
// Without a fetcher a missing session is reported as ErrSessionNotFound.
func (s *SessionStore) GetOrCreate(ctx context.Context, peer Address) (*Session, error) {
	h, err := s.Get(peer)
	if !errors.Is(err, ErrSessionNotFound) || s.fetcher == nil {
		return h, err
	}

	bundle, err := s.fetcher.FetchBundle(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("fetching bundle of %s: %w", peer, err)
	}
	return s.Initiate(peer, bundle)
}

// Get returns the existing session with peer, from memory or the persister.
func (s *SessionStore) Get(peer Address) (*Session, error) {
	sess, err := s.lookup(peer)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return s.handle(sess), nil
	}

	sess, err = s.load(peer)
	if err != nil {
		return nil, err
	}
	sess, err = s.insert(sess, keepExisting)
	if err != nil {
		return nil, err
	}
	return s.handle(sess), nil
}

// Initiate starts a session with peer from its pre-key bundle. The bundle's
// signatures are verified first. If a session with peer already exists it
// is returned unchanged; Remove it first to start over.
func (s *SessionStore) Initiate(peer Address, bundle *prekey.Bundle) (*Session, error) {
	if h, err := s.Get(peer); !errors.Is(err, ErrSessionNotFound) {
		return h, err
	}

	res, err := x3dh.Initiate(s.identity, bundle, s.agreementOpts...)
	if err != nil {
		return nil, fmt.Errorf("starting session with %s: %w", peer, err)
	}
	defer res.Wipe()

	state, err := ratchet.NewInitiator(res.RootKey, res.AssociatedData, s.ratchetOpts...)
	if err != nil {
		return nil, fmt.Errorf("starting session with %s: %w", peer, err)
	}
	sess := &session{
		peer:        peer,
		state:       state,
		initial:     res.Message,
		base:        res.Message.Ephemeral,
		postQuantum: res.PostQuantum,
		createdAt:   time.Now().UTC(),
	}
	winner, err := s.insert(sess, keepExisting)
	if err != nil {
		return nil, err
	}
	if winner != sess {
		return s.handle(winner), nil
	}

	winner.mu.Lock()
	if err := s.persist(winner); err != nil {
		s.logger.Warn(
			"persisting new session",
			slog.String("peer", peer.String()),
			slog.Any("err", err),
		)
	}
	winner.mu.Unlock()

	if res.MissingOneTimePreKey {
		s.logger.Warn(
			"session started without one-time pre-key",
			slog.String("peer", peer.String()),
		)
	}
	s.logger.Info(
		"session created",
		slog.String("peer", peer.String()),
		slog.Bool("post_quantum", res.PostQuantum),
	)
	return s.handle(winner), nil
}

// Accept handles a message received from peer. Messages for an existing
// session are decrypted with it. A message carrying an initial agreement
// starts a new session, replacing one the peer has evidently lost, but only
// once its first envelope authenticates; the one-time pre-key it names is
// consumed at that point and never before. Each agreement is accepted once.
func (s *SessionStore) Accept(peer Address, msg *Message) (*Session, []byte, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil, fmt.Errorf("%w: empty message", ErrInvalidEnvelope)
	}

	h, err := s.Get(peer)
	switch {
	case err == nil:
		plaintext, derr := h.Decrypt(msg)
		if derr == nil {
			return h, plaintext, nil
		}
		if msg.Initial == nil || h.s.sameAgreement(msg.Initial) {
			return nil, nil, derr
		}
		if err := s.checkHandshake(peer, msg.Initial); err != nil {
			return nil, nil, err
		}
		sess, plaintext, rerr := s.respond(peer, msg)
		if rerr != nil {
			// the peer's message did not start a usable session either
			return nil, nil, derr
		}
		return s.accepted(sess, plaintext)
	case !errors.Is(err, ErrSessionNotFound):
		return nil, nil, err
	case msg.Initial == nil:
		return nil, nil, err
	}

	if err := s.checkHandshake(peer, msg.Initial); err != nil {
		return nil, nil, err
	}
	sess, plaintext, err := s.respond(peer, msg)
	if err != nil {
		return nil, nil, err
	}
	return s.accepted(sess, plaintext)
}

func (s *SessionStore) accepted(sess *session, plaintext []byte) (*Session, []byte, error) {
	winner, err := s.insert(sess, replaceOther)
	if err != nil {
		memzero.Zero(plaintext)
		return nil, nil, err
	}
	if winner != sess {
		memzero.Zero(plaintext)
		return nil, nil, fmt.Errorf("%w: initial message already accepted", ErrAuthentication)
	}

	if err := s.handshakes.RecordHandshake(winner.peer, winner.base); err != nil {
		s.logger.Warn(
			"recording accepted handshake",
			slog.String("peer", winner.peer.String()),
			slog.Any("err", err),
		)
	}

	winner.mu.Lock()
	if err := s.persist(winner); err != nil {
		s.logger.Warn(
			"persisting accepted session",
			slog.String("peer", winner.peer.String()),
			slog.Any("err", err),
		)
	}
	winner.mu.Unlock()

	s.logger.Info(
		"session accepted",
		slog.String("peer", winner.peer.String()),
		slog.Bool("post_quantum", winner.postQuantum),
	)
	return s.handle(winner), plaintext, nil
}

// checkHandshake rejects an initial message whose agreement was accepted
// before. Without a one-time pre-key nothing else stops it from agreeing
// again while its signed pre-key is kept.
func (s *SessionStore) checkHandshake(peer Address, m *x3dh.InitialMessage) error {
	seen, err := s.handshakes.SeenHandshake(peer, m.Ephemeral)
	if err != nil {
		return fmt.Errorf("checking accepted handshakes: %w", err)
	}
	if seen {
		return fmt.Errorf("%w: replayed initial message", ErrAuthentication)
	}
	return nil
}

// respond runs the responder side of the agreement for msg and decrypts its
// envelope. Nothing is changed unless the envelope authenticates.
func (s *SessionStore) respond(peer Address, msg *Message) (*session, []byte, error) {
	if s.prekeys == nil {
		return nil, nil, fmt.Errorf("%w: no pre-key source", ErrUnknownPreKey)
	}
	keys, err := s.lookupPreKeys(msg.Initial)
	defer wipePreKeys(keys)
	if err != nil {
		return nil, nil, fmt.Errorf("accepting session from %s: %w", peer, err)
	}

	res, err := x3dh.Respond(s.identity, keys, msg.Initial, s.agreementOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("accepting session from %s: %w", peer, err)
	}
	defer res.Wipe()

	state, err := ratchet.NewResponder(
		res.RootKey, res.AssociatedData, msg.Envelope.RatchetKey, s.ratchetOpts...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("accepting session from %s: %w", peer, err)
	}
	plaintext, err := state.Decrypt(msg.Envelope)
	if err != nil {
		state.Wipe()
		return nil, nil, err
	}

	if id := msg.Initial.OneTimePreKeyID; id != nil {
		if err := s.prekeys.RemoveOneTimePreKey(*id); err != nil {
			state.Wipe()
			memzero.Zero(plaintext)
			return nil, nil, fmt.Errorf("consuming one-time pre-key: %w", err)
		}
	} else {
		s.logger.Warn(
			"session accepted without one-time pre-key",
			slog.String("peer", peer.String()),
		)
	}

	return &session{
		peer:        peer,
		state:       state,
		base:        msg.Initial.Ephemeral,
		postQuantum: res.PostQuantum,
		createdAt:   time.Now().UTC(),
	}, plaintext, nil
}

func (s *SessionStore) lookupPreKeys(m *x3dh.InitialMessage) (x3dh.PreKeys, error) {
	var (
		keys x3dh.PreKeys
		err  error
	)
	if keys.SignedPreKey, err = s.prekeys.SignedPreKey(m.SignedPreKeyID); err != nil {
		return keys, err
	}
	if m.OneTimePreKeyID != nil {
		if keys.OneTimePreKey, err = s.prekeys.OneTimePreKey(*m.OneTimePreKeyID); err != nil {
			return keys, err
		}
	}
	if m.KEMPreKeyID != nil {
		if keys.KEMPreKey, err = s.prekeys.KEMPreKey(*m.KEMPreKeyID); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

func wipePreKeys(keys x3dh.PreKeys) {
	keys.SignedPreKey.Wipe()
	keys.OneTimePreKey.Wipe()
	keys.KEMPreKey.Wipe()
}

// Has reports whether a session with peer exists in memory or in the
// persister.
func (s *SessionStore) Has(peer Address) bool {
	sess, err := s.lookup(peer)
	if err != nil {
		return false
	}
	if sess != nil {
		return true
	}
	if s.persister == nil {
		return false
	}
	b, err := s.persister.LoadSession(peer)
	memzero.Zero(b)
	return err == nil
}

// Remove ends the session with peer, wiping its keys and deleting the
// persisted copy. Handles to it fail with ErrSessionNotFound afterwards.
func (s *SessionStore) Remove(peer Address) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	sess, ok := s.sessions[peer]
	delete(s.sessions, peer)
	s.mu.Unlock()

	if ok {
		sess.retire()
	}
	if s.persister != nil {
		err := s.persister.DeleteSession(peer)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("deleting session with %s: %w", peer, err)
		}
	}
	s.logger.Info("session removed", slog.String("peer", peer.String()))
	return nil
}

// Peers lists every peer with a session, including persisted ones when the
// persister implements SessionLister.
func (s *SessionStore) Peers() ([]Address, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	peers := make([]Address, 0, len(s.sessions))
	for peer := range s.sessions {
		peers = append(peers, peer)
	}
	s.mu.RUnlock()

	if lister, ok := s.persister.(SessionLister); ok {
		stored, err := lister.Sessions()
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		peers = append(peers, stored...)
	}

	slices.SortFunc(peers, compareAddress)
	return slices.Compact(peers), nil
}

// Close wipes every session held in memory. Persisted sessions are kept.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = nil
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.retire()
	}
	return nil
}

func (s *SessionStore) lookup(peer Address) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.sessions[peer], nil
}

func (s *SessionStore) load(peer Address) (*session, error) {
	if s.persister == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}
	b, err := s.persister.LoadSession(peer)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(b)

	sess, err := unmarshalSession(peer, b, s.ratchetOpts)
	if err != nil {
		return nil, fmt.Errorf("restoring session with %s: %w", peer, err)
	}
	s.logger.Debug("session restored", slog.String("peer", peer.String()))
	return sess, nil
}

type replacePolicy func(current, next *session) bool

func keepExisting(_, _ *session) bool { return false }

// replaceOther lets a new agreement replace a session, unless both come from
// the same initial message.
func replaceOther(current, next *session) bool { return current.base != next.base }

// insert stores sess unless the policy keeps an existing session, in which
// case sess is wiped. It returns whichever session is now stored.
func (s *SessionStore) insert(sess *session, replace replacePolicy) (*session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.wipe()
		return nil, ErrStoreClosed
	}
	old, ok := s.sessions[sess.peer]
	if ok && !replace(old, sess) {
		s.mu.Unlock()
		sess.wipe()
		return old, nil
	}
	s.sessions[sess.peer] = sess
	s.mu.Unlock()

	if ok {
		old.retire()
		s.logger.Info("session replaced", slog.String("peer", sess.peer.String()))
	}
	return sess, nil
}

func (s *SessionStore) persist(sess *session) error {
	if s.persister == nil {
		return nil
	}
	b, err := sess.marshal()
	if err != nil {
		return err
	}
	defer memzero.Zero(b)
	return s.persister.StoreSession(sess.peer, b)
}

func (s *SessionStore) handle(sess *session) *Session {
	return &Session{store: s, s: sess}
}

func compareAddress(a, b Address) int {
	if a.UserID != b.UserID {
		if a.UserID < b.UserID {
			return -1
		}
		return 1
	}
	switch {
	case a.DeviceID < b.DeviceID:
		return -1
	case a.DeviceID > b.DeviceID:
		return 1
	}
	return 0
}
