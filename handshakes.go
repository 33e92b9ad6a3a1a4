package vault

import (
	"slices"
	"sync"

	"github.com/kamune-org/vault/pkg/exchange"
)

// maxHandshakes is how many accepted agreements are remembered per peer.
// Older ones are covered by signed pre-key pruning: once their signed
// pre-key is gone, a replay fails to agree.
const maxHandshakes = 64

type ephemeralKey = [exchange.KeySize]byte

// memoryHandshakes is the HandshakeRecorder of stores without a persister
// that keeps one.
type memoryHandshakes struct {
	mu   sync.Mutex
	seen map[Address][]ephemeralKey
}

func newMemoryHandshakes() *memoryHandshakes {
	return &memoryHandshakes{seen: make(map[Address][]ephemeralKey)}
}

func (m *memoryHandshakes) SeenHandshake(peer Address, ephemeral ephemeralKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.seen[peer], ephemeral), nil
}

func (m *memoryHandshakes) RecordHandshake(peer Address, ephemeral ephemeralKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[peer] = appendHandshake(m.seen[peer], ephemeral)
	return nil
}

// appendHandshake adds ephemeral to log, dropping the oldest entries beyond
// maxHandshakes.
func appendHandshake(log []ephemeralKey, ephemeral ephemeralKey) []ephemeralKey {
	if slices.Contains(log, ephemeral) {
		return log
	}
	log = append(log, ephemeral)
	if n := len(log) - maxHandshakes; n > 0 {
		log = slices.Delete(log, 0, n)
	}
	return log
}
