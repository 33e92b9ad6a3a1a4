package vault

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/kamune-org/vault/pkg/prekey"
)

// MemoryPreKeys is an in-memory PreKeySource that also publishes bundles
// for its identity. Keys handed out by lookups are copies owned by the
// caller.
type MemoryPreKeys struct {
	identity *prekey.Identity
	pool     *prekey.Pool

	mu           sync.RWMutex
	signed       map[uint32]*prekey.SignedPreKey
	activeSigned uint32
	kem          map[uint32]*prekey.KEMPreKey
	activeKEM    uint32
}

func NewMemoryPreKeys(identity *prekey.Identity) *MemoryPreKeys {
	return &MemoryPreKeys{
		identity: identity,
		pool:     prekey.NewPool(1),
		signed:   make(map[uint32]*prekey.SignedPreKey),
		kem:      make(map[uint32]*prekey.KEMPreKey),
	}
}

// RotateSignedPreKey generates a new active signed pre-key. Previous keys
// stay available for sessions that are still being set up with them.
func (m *MemoryPreKeys) RotateSignedPreKey() (*prekey.SignedPreKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := prekey.GenerateSignedPreKey(m.identity, m.activeSigned+1)
	if err != nil {
		return nil, err
	}
	m.signed[k.ID] = k
	m.activeSigned = k.ID
	return k.Clone(), nil
}

// RotateIfExpired rotates the active signed pre-key once it is older than
// maxAge, reporting whether it did.
func (m *MemoryPreKeys) RotateIfExpired(now time.Time, maxAge time.Duration) (bool, error) {
	m.mu.RLock()
	active, ok := m.signed[m.activeSigned]
	expired := !ok || active.Expired(now, maxAge)
	m.mu.RUnlock()
	if !expired {
		return false, nil
	}
	_, err := m.RotateSignedPreKey()
	return err == nil, err
}

// PruneSignedPreKeys wipes signed pre-keys whose successor has been active for
// at least grace and returns their ids. The active key is always kept.
func (m *MemoryPreKeys) PruneSignedPreKeys(now time.Time, grace time.Duration) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := slices.Sorted(maps.Keys(m.signed))
	var pruned []uint32
	for i := range len(ids) - 1 {
		if now.Sub(m.signed[ids[i+1]].CreatedAt) < grace {
			continue
		}
		m.signed[ids[i]].Wipe()
		pruned = append(pruned, ids[i])
	}
	for _, id := range pruned {
		delete(m.signed, id)
	}
	return pruned
}

// GenerateKEMPreKey replaces the published post-quantum pre-key.
func (m *MemoryPreKeys) GenerateKEMPreKey() (*prekey.KEMPreKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := prekey.GenerateKEMPreKey(m.identity, m.activeKEM+1)
	if err != nil {
		return nil, err
	}
	m.kem[k.ID] = k
	m.activeKEM = k.ID
	return k.Clone(), nil
}

// Refill adds count one-time pre-keys.
func (m *MemoryPreKeys) Refill(count int) error {
	_, err := m.pool.Refill(count)
	return err
}

// Available is the number of one-time pre-keys not yet handed out in a
// bundle.
func (m *MemoryPreKeys) Available() int {
	return m.pool.Available()
}

// Bundle publishes the active keys. Each bundle carries a different one-time
// pre-key while they last; afterwards bundles carry none.
func (m *MemoryPreKeys) Bundle(registrationID, deviceID uint32) (*prekey.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	spk, ok := m.signed[m.activeSigned]
	if !ok {
		return nil, fmt.Errorf("%w: no signed pre-key", ErrUnknownPreKey)
	}
	opk, _ := m.pool.Take()
	return prekey.NewBundle(
		m.identity, registrationID, deviceID, spk, opk, m.kem[m.activeKEM],
	), nil
}

func (m *MemoryPreKeys) SignedPreKey(id uint32) (*prekey.SignedPreKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.signed[id]
	if !ok {
		return nil, fmt.Errorf("%w: signed pre-key %d", ErrUnknownPreKey, id)
	}
	return k.Clone(), nil
}

func (m *MemoryPreKeys) OneTimePreKey(id uint32) (*prekey.OneTimePreKey, error) {
	k, ok := m.pool.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: one-time pre-key %d", ErrUnknownPreKey, id)
	}
	return k.Clone(), nil
}

func (m *MemoryPreKeys) RemoveOneTimePreKey(id uint32) error {
	return m.pool.Consume(id)
}

func (m *MemoryPreKeys) KEMPreKey(id uint32) (*prekey.KEMPreKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.kem[id]
	if !ok {
		return nil, fmt.Errorf("%w: kem pre-key %d", ErrUnknownPreKey, id)
	}
	return k.Clone(), nil
}

// Wipe zeroes every private pre-key. The identity is left to its owner.
func (m *MemoryPreKeys) Wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, k := range m.signed {
		k.Wipe()
		delete(m.signed, id)
	}
	for id, k := range m.kem {
		k.Wipe()
		delete(m.kem, id)
	}
	m.pool.Clear()
}
