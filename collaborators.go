package vault

import (
	"context"

	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/prekey"
)

// SessionPersister keeps serialized sessions between runs. The bytes are
// secret and must be stored encrypted. LoadSession returns an error wrapping
// ErrSessionNotFound when nothing is stored for peer.
type SessionPersister interface {
	LoadSession(peer Address) ([]byte, error)
	StoreSession(peer Address, state []byte) error
	DeleteSession(peer Address) error
}

// SessionLister is implemented by persisters that can enumerate the peers
// they hold sessions for.
type SessionLister interface {
	Sessions() ([]Address, error)
}

// HandshakeRecorder remembers the ephemeral keys of agreements accepted from
// each peer, so that no initial message starts a session twice. A persister
// implementing it is used for this unless another recorder is configured.
type HandshakeRecorder interface {
	SeenHandshake(peer Address, ephemeral [exchange.KeySize]byte) (bool, error)
	RecordHandshake(peer Address, ephemeral [exchange.KeySize]byte) error
}

// PreKeySource gives the responder side access to its private pre-keys.
// Lookups of unknown ids return an error wrapping ErrUnknownPreKey.
type PreKeySource interface {
	SignedPreKey(id uint32) (*prekey.SignedPreKey, error)
	OneTimePreKey(id uint32) (*prekey.OneTimePreKey, error)
	// RemoveOneTimePreKey deletes and wipes the key. Removing it a second
	// time must fail with ErrUnknownPreKey.
	RemoveOneTimePreKey(id uint32) error
	KEMPreKey(id uint32) (*prekey.KEMPreKey, error)
}

// BundleFetcher retrieves a peer's published pre-key bundle, typically from
// a directory server.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, peer Address) (*prekey.Bundle, error)
}

// BundleFetcherFunc adapts a function to BundleFetcher.
type BundleFetcherFunc func(ctx context.Context, peer Address) (*prekey.Bundle, error)

func (f BundleFetcherFunc) FetchBundle(
	ctx context.Context, peer Address,
) (*prekey.Bundle, error) {
	return f(ctx, peer)
}
