package ratchet

import (
	"fmt"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/pkg/exchange"
)

type skippedID struct {
	ratchetKey [exchange.KeySize]byte
	n          uint32
}

type skippedKey struct {
	skippedID
	mk []byte
}

// skippedKeys holds message keys of messages that have not arrived yet.
// Lookups do not refresh an entry, so eviction always drops the oldest
// insertion. Evicted and removed keys are wiped.
type skippedKeys struct {
	lru *simplelru.LRU
}

func newSkippedKeys(size int) (*skippedKeys, error) {
	lru, err := simplelru.NewLRU(size, func(_, value interface{}) {
		memzero.Zero(value.([]byte))
	})
	if err != nil {
		return nil, fmt.Errorf("creating skipped key cache: %w", err)
	}
	return &skippedKeys{lru: lru}, nil
}

func (s *skippedKeys) get(id skippedID) ([]byte, bool) {
	v, ok := s.lru.Peek(id)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (s *skippedKeys) add(keys ...skippedKey) {
	for _, k := range keys {
		// Add replaces an existing value without calling the eviction hook.
		if old, ok := s.get(k.skippedID); ok && len(old) > 0 && len(k.mk) > 0 && &old[0] != &k.mk[0] {
			memzero.Zero(old)
		}
		s.lru.Add(k.skippedID, k.mk)
	}
}

func (s *skippedKeys) remove(id skippedID) {
	s.lru.Remove(id)
}

func (s *skippedKeys) len() int {
	return s.lru.Len()
}

// entries returns every cached key, oldest first.
func (s *skippedKeys) entries() []skippedKey {
	ids := s.lru.Keys()
	out := make([]skippedKey, 0, len(ids))
	for _, id := range ids {
		mk, ok := s.get(id.(skippedID))
		if !ok {
			continue
		}
		out = append(out, skippedKey{skippedID: id.(skippedID), mk: mk})
	}
	return out
}

func (s *skippedKeys) purge() {
	s.lru.Purge()
}
