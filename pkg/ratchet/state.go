package ratchet

import (
	"crypto/rand"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/internal/wire"
	"github.com/kamune-org/vault/pkg/exchange"
)

const (
	stateRootKey protowire.Number = iota + 1
	stateSendCK
	stateRecvCK
	stateLocalKey
	stateRemoteKey
	stateSent
	stateReceived
	statePrevious
	stateStepPending
	stateAssociatedData
	stateMaxSkip
	stateMaxCache
	stateSkipped
)

const (
	skippedRatchetKey protowire.Number = iota + 1
	skippedCounter
	skippedMessageKey
)

// MarshalBinary encodes the complete state, skipped keys included, oldest
// first. The output holds secret keys and must only be stored encrypted.
func (s *State) MarshalBinary() ([]byte, error) {
	if s.rootKey == nil {
		return nil, fmt.Errorf("%w: state has been wiped", ErrInvalidState)
	}
	local := s.local.MarshalPrivateKey()
	defer memzero.Zero(local)

	entries := s.skipped.entries()
	skipped := make([][]byte, 0, len(entries))
	for _, k := range entries {
		var e wire.Encoder
		e.Bytes(skippedRatchetKey, k.ratchetKey[:]).
			Uint(skippedCounter, uint64(k.n)).
			Bytes(skippedMessageKey, k.mk)
		skipped = append(skipped, e.Encode())
	}
	defer func() { memzero.All(skipped...) }()

	var e wire.Encoder
	e.Bytes(stateRootKey, s.rootKey).
		Bytes(stateSendCK, s.sendCK).
		Bytes(stateRecvCK, s.recvCK).
		Bytes(stateLocalKey, local)
	if s.remote != nil {
		e.Bytes(stateRemoteKey, s.remote[:])
	}
	e.Uint(stateSent, uint64(s.ns)).
		Uint(stateReceived, uint64(s.nr)).
		Uint(statePrevious, uint64(s.pn)).
		Bool(stateStepPending, s.stepPending).
		Bytes(stateAssociatedData, s.ad).
		Required(stateMaxSkip, uint64(s.maxSkip)).
		Required(stateMaxCache, uint64(s.maxCache)).
		Repeated(stateSkipped, skipped)
	return e.Encode(), nil
}

// UnmarshalState restores a state encoded by MarshalBinary. Options are
// applied after decoding, so they override the persisted bounds.
func UnmarshalState(b []byte, opts ...Option) (*State, error) {
	var (
		s       = &State{maxSkip: DefaultMaxSkip, maxCache: DefaultMaxCache}
		local   []byte
		skipped []skippedKey
	)
	defer func() { memzero.Zero(local) }()
	fail := func(err error) (*State, error) {
		for _, k := range skipped {
			memzero.Zero(k.mk)
		}
		memzero.All(s.rootKey, s.sendCK, s.recvCK)
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case stateRootKey:
			s.rootKey, err = f.Bytes()
		case stateSendCK:
			s.sendCK, err = f.Bytes()
		case stateRecvCK:
			s.recvCK, err = f.Bytes()
		case stateLocalKey:
			local, err = f.Bytes()
		case stateRemoteKey:
			var remote [exchange.KeySize]byte
			if err = f.Fixed(remote[:]); err == nil {
				s.remote = &remote
			}
		case stateSent:
			s.ns, err = f.Uint32()
		case stateReceived:
			s.nr, err = f.Uint32()
		case statePrevious:
			s.pn, err = f.Uint32()
		case stateStepPending:
			s.stepPending, err = f.Bool()
		case stateAssociatedData:
			s.ad, err = f.Bytes()
		case stateMaxSkip:
			var v uint32
			v, err = f.Uint32()
			s.maxSkip = int(v)
		case stateMaxCache:
			var v uint32
			v, err = f.Uint32()
			s.maxCache = int(v)
		case stateSkipped:
			var raw []byte
			if raw, err = f.Bytes(); err == nil {
				var k skippedKey
				k, err = unmarshalSkipped(raw)
				memzero.Zero(raw)
				skipped = append(skipped, k)
			}
		}
		return err
	})
	if err != nil {
		return fail(err)
	}
	if len(s.rootKey) == 0 || len(s.recvCK) == 0 {
		return fail(fmt.Errorf("missing chain keys"))
	}
	if s.sendCK == nil && !s.stepPending {
		return fail(fmt.Errorf("missing sending chain"))
	}
	if s.local, err = exchange.RestoreKeyPair(local); err != nil {
		return fail(err)
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.random == nil {
		s.random = rand.Reader
	}
	if s.maxCache <= 0 || s.maxSkip < 0 {
		s.local.Wipe()
		return fail(fmt.Errorf("bounds skip=%d cache=%d", s.maxSkip, s.maxCache))
	}
	if s.skipped, err = newSkippedKeys(s.maxCache); err != nil {
		s.local.Wipe()
		return fail(err)
	}
	s.skipped.add(skipped...)
	return s, nil
}

func unmarshalSkipped(b []byte) (skippedKey, error) {
	var (
		k       skippedKey
		seenKey bool
	)
	err := wire.Decode(b, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case skippedRatchetKey:
			err = f.Fixed(k.ratchetKey[:])
			seenKey = true
		case skippedCounter:
			k.n, err = f.Uint32()
		case skippedMessageKey:
			k.mk, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return skippedKey{}, err
	}
	if !seenKey || len(k.mk) == 0 {
		memzero.Zero(k.mk)
		return skippedKey{}, fmt.Errorf("incomplete skipped key")
	}
	return k, nil
}
