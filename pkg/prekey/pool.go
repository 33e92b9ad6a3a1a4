package prekey

import (
	"fmt"
	"slices"
	"sync"
)

// Pool holds a device's unconsumed one-time pre-keys. Ids keep increasing
// across refills and are never handed out twice.
type Pool struct {
	mu     sync.Mutex
	nextID uint32
	keys   map[uint32]*OneTimePreKey
	// published tracks ids already handed out by Take.
	published map[uint32]struct{}
}

func NewPool(startID uint32) *Pool {
	return &Pool{
		nextID:    startID,
		keys:      make(map[uint32]*OneTimePreKey),
		published: make(map[uint32]struct{}),
	}
}

// Refill generates count new keys and adds them to the pool.
func (p *Pool) Refill(count int) ([]*OneTimePreKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys, err := GenerateOneTimePreKeys(count, p.nextID)
	if err != nil {
		return nil, fmt.Errorf("refilling pool: %w", err)
	}
	for _, k := range keys {
		p.keys[k.ID] = k
	}
	p.nextID += uint32(count)
	return keys, nil
}

// Add puts already generated keys, e.g. loaded from disk, into the pool.
func (p *Pool) Add(keys ...*OneTimePreKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, k := range keys {
		p.keys[k.ID] = k
		if k.ID >= p.nextID {
			p.nextID = k.ID + 1
		}
	}
}

// Take returns the lowest-id key that has not been published yet. The key
// stays in the pool until it is consumed.
func (p *Pool) Take() (*OneTimePreKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.sortedIDs() {
		if _, ok := p.published[id]; ok {
			continue
		}
		p.published[id] = struct{}{}
		return p.keys[id], true
	}
	return nil, false
}

func (p *Pool) Get(id uint32) (*OneTimePreKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k, ok := p.keys[id]
	return k, ok
}

// Consume removes and wipes the key. Consuming a key twice returns
// ErrUnknownPreKey.
func (p *Pool) Consume(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k, ok := p.keys[id]
	if !ok {
		return fmt.Errorf("%w: one-time pre-key %d", ErrUnknownPreKey, id)
	}
	delete(p.keys, id)
	delete(p.published, id)
	k.Wipe()
	return nil
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.keys)
}

// Available is the number of keys not yet handed out by Take.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.keys) - len(p.published)
}

func (p *Pool) NextID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.nextID
}

// Clear wipes and removes every key. Ids are not reused afterwards.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, k := range p.keys {
		k.Wipe()
		delete(p.keys, id)
	}
	clear(p.published)
}

func (p *Pool) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(p.keys))
	for id := range p.keys {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
