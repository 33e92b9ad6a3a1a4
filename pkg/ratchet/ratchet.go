// Package ratchet implements the Double Ratchet: a symmetric chain step for
// every message and a Diffie-Hellman step whenever the peer's ratchet key
// changes. Message keys of skipped messages are cached up to a fixed bound
// so that out-of-order delivery can still be decrypted.
package ratchet

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/kamune-org/vault/internal/enigma"
	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/kdf"
)

const (
	// DefaultMaxSkip bounds how many message keys a single message may make
	// us derive ahead of time.
	DefaultMaxSkip = 1000
	// DefaultMaxCache bounds the number of cached skipped keys per session.
	DefaultMaxCache = 2000
)

var (
	ErrAuthentication  = enigma.ErrAuthentication
	ErrExcessiveSkip   = errors.New("too many skipped messages")
	ErrInvalidState    = errors.New("invalid ratchet state")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// State is one side of a ratchet session. It is not safe for concurrent use.
type State struct {
	rootKey []byte
	sendCK  []byte
	recvCK  []byte

	local *exchange.KeyPair
	// remote is nil until the peer's first ratchet key is known.
	remote *[exchange.KeySize]byte

	ns, nr, pn uint32
	// stepPending means a new remote key arrived and our next message must
	// start a new sending chain.
	stepPending bool

	ad      []byte
	skipped *skippedKeys

	maxSkip  int
	maxCache int
	random   io.Reader
}

type Option func(*State)

func WithMaxSkip(n int) Option {
	return func(s *State) { s.maxSkip = n }
}

func WithMaxCache(n int) Option {
	return func(s *State) { s.maxCache = n }
}

// WithRandom sets the source used for new ratchet key pairs.
func WithRandom(r io.Reader) Option {
	return func(s *State) { s.random = r }
}

func newState(root, ad []byte, opts []Option) (*State, error) {
	if len(root) != kdf.KeySize {
		return nil, fmt.Errorf("%w: root key length %d", ErrInvalidState, len(root))
	}
	s := &State{
		rootKey:  clone(root),
		recvCK:   clone(root),
		ad:       clone(ad),
		maxSkip:  DefaultMaxSkip,
		maxCache: DefaultMaxCache,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxSkip < 0 || s.maxCache <= 0 {
		return nil, fmt.Errorf(
			"%w: bounds skip=%d cache=%d", ErrInvalidState, s.maxSkip, s.maxCache,
		)
	}
	var err error
	if s.skipped, err = newSkippedKeys(s.maxCache); err != nil {
		return nil, err
	}
	return s, nil
}

// NewInitiator starts the session for the side that ran the initial
// agreement. Both chains are seeded with the root key and the remote
// ratchet key stays unset until the first reply arrives.
func NewInitiator(root, ad []byte, opts ...Option) (*State, error) {
	s, err := newState(root, ad, opts)
	if err != nil {
		return nil, err
	}
	if s.local, err = exchange.NewKeyPairFrom(s.random); err != nil {
		s.Wipe()
		return nil, fmt.Errorf("generating ratchet key: %w", err)
	}
	s.sendCK = clone(root)
	return s, nil
}

// NewResponder starts the session for the side that answered the initial
// agreement. remote is the ratchet key from the initiator's first header.
// The responder's own sending chain is created on its first Encrypt.
func NewResponder(
	root, ad []byte, remote [exchange.KeySize]byte, opts ...Option,
) (*State, error) {
	s, err := newState(root, ad, opts)
	if err != nil {
		return nil, err
	}
	// the placeholder key is replaced by the pending step before any use
	if s.local, err = exchange.NewKeyPairFrom(s.random); err != nil {
		s.Wipe()
		return nil, fmt.Errorf("generating ratchet key: %w", err)
	}
	s.remote = &remote
	s.stepPending = true
	return s, nil
}

// Encrypt seals plaintext with the next sending message key.
func (s *State) Encrypt(plaintext []byte) (*Envelope, error) {
	var (
		step  *sendStep
		ck    = s.sendCK
		local = s.local
		ns    = s.ns
		pn    = s.pn
	)
	if s.stepPending || ck == nil {
		var err error
		if step, err = s.newSendStep(); err != nil {
			return nil, err
		}
		ck, local, ns, pn = step.chain, step.local, 0, s.ns
	}
	if ns == math.MaxUint32 {
		step.wipe()
		return nil, fmt.Errorf("%w: sending chain exhausted", ErrInvalidState)
	}

	next, mk := kdf.ChainStep(ck)
	defer memzero.Zero(mk)
	header := Header{RatchetKey: local.PublicKey, PN: pn, N: ns}
	sealed, err := enigma.Seal(mk, plaintext, s.associatedData(header))
	if err != nil {
		memzero.Zero(next)
		step.wipe()
		return nil, fmt.Errorf("sealing message: %w", err)
	}

	if step != nil {
		s.local.Wipe()
		memzero.All(s.rootKey, s.sendCK)
		s.local, s.rootKey, s.sendCK = step.local, step.root, step.chain
		s.stepPending = false
	}
	memzero.Zero(s.sendCK)
	s.sendCK = next
	s.ns, s.pn = ns+1, pn

	return &Envelope{
		Header:     header,
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
		Tag:        sealed.Tag,
	}, nil
}

// sendStep is the sending half of a Diffie-Hellman ratchet step, computed
// lazily on the first message after a new remote key.
type sendStep struct {
	local *exchange.KeyPair
	root  []byte
	chain []byte
}

func (s *State) newSendStep() (*sendStep, error) {
	if s.remote == nil {
		return nil, fmt.Errorf("%w: no remote ratchet key", ErrInvalidState)
	}
	local, err := exchange.NewKeyPairFrom(s.random)
	if err != nil {
		return nil, fmt.Errorf("generating ratchet key: %w", err)
	}
	dh, err := local.Exchange(s.remote[:])
	if err != nil {
		local.Wipe()
		return nil, fmt.Errorf("%w: ratchet exchange: %w", ErrInvalidState, err)
	}
	defer memzero.Zero(dh)
	root, chain, err := kdf.RootStep(s.rootKey, dh)
	if err != nil {
		local.Wipe()
		return nil, err
	}
	return &sendStep{local: local, root: root, chain: chain}, nil
}

func (st *sendStep) wipe() {
	if st == nil {
		return
	}
	st.local.Wipe()
	memzero.All(st.root, st.chain)
}

// receiving is the working copy Decrypt mutates. It is committed to the
// state only after the message authenticates.
type receiving struct {
	root    []byte
	ck      []byte
	remote  [exchange.KeySize]byte
	nr      uint32
	stepped bool
	skipped []skippedKey
	// superseded keys are wiped on commit
	superseded [][]byte

	ownedRoot, ownedCK []byte
}

// Decrypt authenticates and decrypts env. On any error the state is left
// exactly as it was.
func (s *State) Decrypt(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	id := skippedID{ratchetKey: env.RatchetKey, n: env.N}
	if mk, ok := s.skipped.get(id); ok {
		plaintext, err := enigma.Open(mk, env.sealed(), s.associatedData(env.Header))
		if err != nil {
			return nil, err
		}
		s.skipped.remove(id)
		return plaintext, nil
	}

	r, err := s.prepare(env.Header)
	if err != nil {
		return nil, err
	}

	next, mk := kdf.ChainStep(r.ck)
	defer memzero.Zero(mk)
	plaintext, err := enigma.Open(mk, env.sealed(), s.associatedData(env.Header))
	if err != nil {
		memzero.Zero(next)
		r.discard()
		return nil, err
	}
	r.superseded = append(r.superseded, r.ck)
	r.ck = next
	r.nr = env.N + 1
	s.commit(r)
	return plaintext, nil
}

// prepare derives everything needed to open a message with header h without
// touching the state.
func (s *State) prepare(h Header) (*receiving, error) {
	r := &receiving{
		root:      s.rootKey,
		ck:        s.recvCK,
		nr:        s.nr,
		ownedRoot: s.rootKey,
		ownedCK:   s.recvCK,
	}
	newKey := s.remote == nil || *s.remote != h.RatchetKey

	var tail uint32
	if newKey && s.remote != nil && h.PN > s.nr {
		tail = h.PN - s.nr
	}
	start := r.nr
	if newKey {
		start = 0
	}
	if h.N < start {
		return nil, fmt.Errorf("%w: message key already consumed", ErrAuthentication)
	}
	if uint64(tail)+uint64(h.N-start) > uint64(s.maxSkip) {
		return nil, fmt.Errorf(
			"%w: %d keys to skip, limit is %d",
			ErrExcessiveSkip, uint64(tail)+uint64(h.N-start), s.maxSkip,
		)
	}

	if newKey {
		if tail > 0 {
			r.skip(*s.remote, s.nr, h.PN)
		}
		dh, err := s.local.Exchange(h.RatchetKey[:])
		if err != nil {
			r.discard()
			return nil, fmt.Errorf("%w: ratchet exchange: %w", ErrAuthentication, err)
		}
		root, ck, err := kdf.RootStep(r.root, dh)
		memzero.Zero(dh)
		if err != nil {
			r.discard()
			return nil, err
		}
		r.superseded = append(r.superseded, r.root, r.ck)
		r.root, r.ck, r.nr = root, ck, 0
		r.stepped = true
	}
	r.remote = h.RatchetKey
	r.skip(h.RatchetKey, r.nr, h.N)
	return r, nil
}

// skip derives and collects the message keys for counters [from, to) of the
// chain identified by key, leaving r.ck at position to.
func (r *receiving) skip(key [exchange.KeySize]byte, from, to uint32) {
	for n := from; n < to; n++ {
		next, mk := kdf.ChainStep(r.ck)
		r.skipped = append(r.skipped, skippedKey{
			skippedID: skippedID{ratchetKey: key, n: n},
			mk:        mk,
		})
		r.superseded = append(r.superseded, r.ck)
		r.ck = next
	}
	r.nr = to
}

// discard wipes everything derived by r, leaving the keys the state still
// owns untouched.
func (r *receiving) discard() {
	for _, k := range r.skipped {
		memzero.Zero(k.mk)
	}
	for _, b := range append(r.superseded, r.root, r.ck) {
		if !sameSlice(b, r.ownedRoot) && !sameSlice(b, r.ownedCK) {
			memzero.Zero(b)
		}
	}
}

func (s *State) commit(r *receiving) {
	for _, b := range r.superseded {
		memzero.Zero(b)
	}
	if r.stepped {
		s.stepPending = true
	}
	s.rootKey, s.recvCK, s.nr = r.root, r.ck, r.nr
	remote := r.remote
	s.remote = &remote
	s.skipped.add(r.skipped...)
}

func (s *State) associatedData(h Header) []byte {
	ad := make([]byte, 0, len(s.ad)+HeaderSize)
	ad = append(ad, s.ad...)
	return h.append(ad)
}

func sameSlice(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

// Counters returns the number of messages sent and received in the current
// chains and the length of the previous sending chain.
func (s *State) Counters() (ns, nr, pn uint32) {
	return s.ns, s.nr, s.pn
}

// LocalKey is the public ratchet key the next message will carry, unless a
// new sending chain is due.
func (s *State) LocalKey() [exchange.KeySize]byte {
	return s.local.PublicKey
}

// RemoteKey returns the peer's current ratchet key, if one is known.
func (s *State) RemoteKey() ([exchange.KeySize]byte, bool) {
	if s.remote == nil {
		return [exchange.KeySize]byte{}, false
	}
	return *s.remote, true
}

func (s *State) AssociatedData() []byte {
	return clone(s.ad)
}

// SkippedKeys is the number of cached message keys.
func (s *State) SkippedKeys() int {
	return s.skipped.len()
}

// Wipe zeroes every key held by the state. The state is unusable afterwards.
func (s *State) Wipe() {
	memzero.All(s.rootKey, s.sendCK, s.recvCK)
	s.local.Wipe()
	if s.skipped != nil {
		s.skipped.purge()
	}
	s.rootKey, s.sendCK, s.recvCK = nil, nil, nil
}
