package vault

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/term"
	"google.golang.org/protobuf/proto"

	"github.com/kamune-org/vault/internal/box/pb"
	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/pkg/attest"
	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/prekey"
	"github.com/kamune-org/vault/pkg/store"
)

var (
	identityBucket  = []byte("identity")
	signedBucket    = []byte("signed-prekeys")
	oneTimeBucket   = []byte("one-time-prekeys")
	kemBucket       = []byte("kem-prekeys")
	sessionBucket   = []byte("sessions")
	handshakeBucket = []byte("handshakes")

	identityKey = []byte("identity")

	// nextOneTimeKey holds the id the next generated one-time pre-key gets.
	nextOneTimeKey = []byte("next-one-time-prekey")

	// publishedOneTimeKey holds the highest one-time pre-key id a bundle has
	// carried.
	publishedOneTimeKey = []byte("published-one-time-prekey")
)

type PassphraseHandler func() ([]byte, error)

func defaultPassphraseHandler() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Enter passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(pass), nil
}

// Storage keeps a device's identity, private pre-keys and sessions in an
// encrypted database. It implements SessionPersister, SessionLister,
// HandshakeRecorder and PreKeySource.
type Storage struct {
	passphraseHandler PassphraseHandler
	store             *store.Store
	storeOpts         []store.Option
	dbPath            string
	algorithm         attest.Algorithm
}

func OpenStorage(opts ...StorageOption) (*Storage, error) {
	s := &Storage{
		algorithm:         attest.Ed25519Algorithm,
		passphraseHandler: defaultPassphraseHandler,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dbPath == "" {
		path, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}
		s.dbPath = filepath.Join(path, "db")
	}

	pass, err := s.passphraseHandler()
	if err != nil {
		return nil, fmt.Errorf("getting passphrase: %w", err)
	}
	defer memzero.Zero(pass)

	storeOpts := append([]store.Option{
		store.WithBuckets(
			string(identityBucket),
			string(signedBucket),
			string(oneTimeBucket),
			string(kemBucket),
			string(sessionBucket),
			string(handshakeBucket),
		),
	}, s.storeOpts...)
	db, err := store.Open(pass, s.dbPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening vault db: %w", err)
	}
	s.store = db

	return s, nil
}

// DefaultDir is where the database lives unless configured otherwise.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user's home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vault"), nil
}

func (s *Storage) Close() error {
	return s.store.Close()
}

// Identity loads the device identity, generating and saving one on first
// use.
func (s *Storage) Identity() (*prekey.Identity, error) {
	var raw []byte
	err := s.store.Query(func(q *store.Query) error {
		var err error
		raw, err = q.Get(identityBucket, identityKey)
		return err
	})
	defer func() { memzero.Zero(raw) }()
	switch {
	case err == nil:
		return prekey.UnmarshalIdentity(raw)
	case errors.Is(err, store.ErrNotFound):
		// continue
	default:
		return nil, fmt.Errorf("getting identity: %w", err)
	}

	id, err := prekey.GenerateIdentity(s.algorithm)
	if err != nil {
		return nil, fmt.Errorf("new %s identity: %w", s.algorithm, err)
	}
	if raw, err = id.MarshalBinary(); err != nil {
		id.Wipe()
		return nil, fmt.Errorf("marshalling identity: %w", err)
	}
	err = s.store.Command(func(c *store.Command) error {
		return c.Put(identityBucket, identityKey, raw)
	})
	if err != nil {
		id.Wipe()
		return nil, fmt.Errorf("persisting identity: %w", err)
	}
	return id, nil
}

func (s *Storage) StoreSignedPreKey(k *prekey.SignedPreKey) error {
	return s.put(signedBucket, k.ID, k)
}

// StoreOneTimePreKeys adds already generated keys. Ids at or below the
// highest one a bundle has carried count as published.
func (s *Storage) StoreOneTimePreKeys(keys ...*prekey.OneTimePreKey) error {
	err := s.store.Command(func(c *store.Command) error {
		for _, k := range keys {
			if err := putKey(c, oneTimeBucket, k.ID, k); err != nil {
				return err
			}
		}
		next, err := nextOneTimeID(&c.Query)
		if err != nil {
			return err
		}
		return putCounter(c, nextOneTimeKey, next)
	})
	if err != nil {
		return fmt.Errorf("storing one-time pre-keys: %w", err)
	}
	return nil
}

// GenerateOneTimePreKeys creates and stores count one-time pre-keys and
// returns their ids. Ids come from a persisted counter, so they keep
// increasing after every stored key has been consumed.
func (s *Storage) GenerateOneTimePreKeys(count int) ([]uint32, error) {
	var out []uint32
	err := s.store.Command(func(c *store.Command) error {
		next, err := nextOneTimeID(&c.Query)
		if err != nil {
			return err
		}
		keys, err := prekey.GenerateOneTimePreKeys(count, next)
		if err != nil {
			return err
		}
		defer func() {
			for _, k := range keys {
				k.Wipe()
			}
		}()

		generated := make([]uint32, 0, len(keys))
		for _, k := range keys {
			if err := putKey(c, oneTimeBucket, k.ID, k); err != nil {
				return err
			}
			generated = append(generated, k.ID)
		}
		if err := putCounter(c, nextOneTimeKey, next+uint32(len(keys))); err != nil {
			return err
		}
		out = generated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generating one-time pre-keys: %w", err)
	}
	return out, nil
}

// AvailableOneTimePreKeys counts the stored one-time pre-keys no bundle has
// carried yet.
func (s *Storage) AvailableOneTimePreKeys() (int, error) {
	var n int
	err := s.store.Query(func(q *store.Query) error {
		published, err := counter(q, publishedOneTimeKey)
		if err != nil {
			return err
		}
		for _, id := range ids(q, oneTimeBucket) {
			if id > published {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Storage) StoreKEMPreKey(k *prekey.KEMPreKey) error {
	return s.put(kemBucket, k.ID, k)
}

func (s *Storage) SignedPreKey(id uint32) (*prekey.SignedPreKey, error) {
	raw, err := s.get(signedBucket, id)
	if err != nil {
		return nil, fmt.Errorf("signed pre-key %d: %w", id, err)
	}
	defer memzero.Zero(raw)
	return prekey.UnmarshalSignedPreKey(raw)
}

func (s *Storage) OneTimePreKey(id uint32) (*prekey.OneTimePreKey, error) {
	raw, err := s.get(oneTimeBucket, id)
	if err != nil {
		return nil, fmt.Errorf("one-time pre-key %d: %w", id, err)
	}
	defer memzero.Zero(raw)
	return prekey.UnmarshalOneTimePreKey(raw)
}

func (s *Storage) RemoveOneTimePreKey(id uint32) error {
	err := s.store.Command(func(c *store.Command) error {
		return c.Delete(oneTimeBucket, keyID(id))
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: one-time pre-key %d", ErrUnknownPreKey, id)
	}
	return err
}

func (s *Storage) KEMPreKey(id uint32) (*prekey.KEMPreKey, error) {
	raw, err := s.get(kemBucket, id)
	if err != nil {
		return nil, fmt.Errorf("kem pre-key %d: %w", id, err)
	}
	defer memzero.Zero(raw)
	return prekey.UnmarshalKEMPreKey(raw)
}

// PreKeyIDs returns the stored ids of each pre-key kind, in ascending order.
func (s *Storage) PreKeyIDs() (signed, oneTime, kem []uint32, err error) {
	err = s.store.Query(func(q *store.Query) error {
		signed = ids(q, signedBucket)
		oneTime = ids(q, oneTimeBucket)
		kem = ids(q, kemBucket)
		return nil
	})
	return signed, oneTime, kem, err
}

// PruneSignedPreKeys deletes signed pre-keys whose successor has been active
// for at least grace. The newest key is always kept. It returns the ids of
// the deleted keys.
func (s *Storage) PruneSignedPreKeys(now time.Time, grace time.Duration) ([]uint32, error) {
	var pruned []uint32
	err := s.store.Command(func(c *store.Command) error {
		signed := ids(&c.Query, signedBucket)
		created := make([]time.Time, len(signed))
		for i, id := range signed {
			k, err := loadKey(&c.Query, signedBucket, id, prekey.UnmarshalSignedPreKey)
			if err != nil {
				return err
			}
			created[i] = k.CreatedAt
			k.Wipe()
		}
		for i := range len(signed) - 1 {
			if now.Sub(created[i+1]) < grace {
				continue
			}
			if err := c.Delete(signedBucket, keyID(signed[i])); err != nil {
				return err
			}
			pruned = append(pruned, signed[i])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pruning signed pre-keys: %w", err)
	}
	return pruned, nil
}

// Bundle publishes the newest signed and KEM pre-keys with the oldest
// one-time pre-key not yet published. Every bundle carries a different
// one-time pre-key; once they run out, bundles carry none.
func (s *Storage) Bundle(
	identity *prekey.Identity, registrationID, deviceID uint32,
) (*prekey.Bundle, error) {
	var (
		spk *prekey.SignedPreKey
		opk *prekey.OneTimePreKey
		kem *prekey.KEMPreKey
	)
	defer func() {
		spk.Wipe()
		opk.Wipe()
		kem.Wipe()
	}()

	err := s.store.Command(func(c *store.Command) error {
		q := &c.Query
		signed := ids(q, signedBucket)
		if len(signed) == 0 {
			return fmt.Errorf("%w: no signed pre-key", ErrUnknownPreKey)
		}
		var err error
		if spk, err = loadKey(q, signedBucket, signed[len(signed)-1], prekey.UnmarshalSignedPreKey); err != nil {
			return err
		}
		if kems := ids(q, kemBucket); len(kems) > 0 {
			if kem, err = loadKey(q, kemBucket, kems[len(kems)-1], prekey.UnmarshalKEMPreKey); err != nil {
				return err
			}
		}

		published, err := counter(q, publishedOneTimeKey)
		if err != nil {
			return err
		}
		for _, id := range ids(q, oneTimeBucket) {
			if id <= published {
				continue
			}
			if opk, err = loadKey(q, oneTimeBucket, id, prekey.UnmarshalOneTimePreKey); err != nil {
				return err
			}
			return putCounter(c, publishedOneTimeKey, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prekey.NewBundle(identity, registrationID, deviceID, spk, opk, kem), nil
}

func (s *Storage) LoadSession(peer Address) ([]byte, error) {
	var raw []byte
	err := s.store.Query(func(q *store.Query) error {
		var err error
		raw, err = q.Get(sessionBucket, []byte(peer.String()))
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}
	return raw, err
}

func (s *Storage) StoreSession(peer Address, state []byte) error {
	return s.store.Command(func(c *store.Command) error {
		return c.Put(sessionBucket, []byte(peer.String()), state)
	})
}

func (s *Storage) DeleteSession(peer Address) error {
	err := s.store.Command(func(c *store.Command) error {
		return c.Delete(sessionBucket, []byte(peer.String()))
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}
	return err
}

func (s *Storage) Sessions() ([]Address, error) {
	var peers []Address
	err := s.store.Query(func(q *store.Query) error {
		for key := range q.Iterate(sessionBucket) {
			peer, err := ParseAddress(string(key))
			if err != nil {
				return err
			}
			peers = append(peers, peer)
		}
		return nil
	})
	return peers, err
}

func (s *Storage) SeenHandshake(peer Address, ephemeral ephemeralKey) (bool, error) {
	var seen []ephemeralKey
	err := s.store.Query(func(q *store.Query) error {
		var err error
		seen, err = handshakes(q, peer)
		return err
	})
	if err != nil {
		return false, err
	}
	return slices.Contains(seen, ephemeral), nil
}

func (s *Storage) RecordHandshake(peer Address, ephemeral ephemeralKey) error {
	return s.store.Command(func(c *store.Command) error {
		seen, err := handshakes(&c.Query, peer)
		if err != nil {
			return err
		}
		seen = appendHandshake(seen, ephemeral)

		var log pb.HandshakeLog
		for _, k := range seen {
			log.Ephemerals = append(log.Ephemerals, k[:])
		}
		raw, err := proto.Marshal(&log)
		if err != nil {
			return fmt.Errorf("marshalling handshake log: %w", err)
		}
		return c.Put(handshakeBucket, []byte(peer.String()), raw)
	})
}

func handshakes(q *store.Query, peer Address) ([]ephemeralKey, error) {
	raw, err := q.Get(handshakeBucket, []byte(peer.String()))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("getting handshake log: %w", err)
	}

	var log pb.HandshakeLog
	if err := proto.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("parsing handshake log: %w", err)
	}
	out := make([]ephemeralKey, 0, len(log.Ephemerals))
	for _, b := range log.Ephemerals {
		if len(b) != exchange.KeySize {
			return nil, fmt.Errorf("parsing handshake log: key length %d", len(b))
		}
		out = append(out, ephemeralKey(b))
	}
	return out, nil
}

func (s *Storage) put(bucket []byte, id uint32, k encoding) error {
	err := s.store.Command(func(c *store.Command) error {
		return putKey(c, bucket, id, k)
	})
	if err != nil {
		return fmt.Errorf("storing %s %d: %w", bucket, id, err)
	}
	return nil
}

func (s *Storage) get(bucket []byte, id uint32) ([]byte, error) {
	var raw []byte
	err := s.store.Query(func(q *store.Query) error {
		var err error
		raw, err = q.Get(bucket, keyID(id))
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownPreKey
	}
	return raw, err
}

type encoding interface {
	MarshalBinary() ([]byte, error)
}

func putKey(c *store.Command, bucket []byte, id uint32, k encoding) error {
	raw, err := k.MarshalBinary()
	if err != nil {
		return err
	}
	defer memzero.Zero(raw)
	return c.Put(bucket, keyID(id), raw)
}

func ids(q *store.Query, bucket []byte) []uint32 {
	var out []uint32
	for key := range q.Iterate(bucket) {
		if len(key) == 4 {
			out = append(out, binary.BigEndian.Uint32(key))
		}
	}
	// records are stored under hashed ids, so storage order means nothing
	slices.Sort(out)
	return out
}

func loadKey[K any](
	q *store.Query, bucket []byte, id uint32, parse func([]byte) (K, error),
) (K, error) {
	raw, err := q.Get(bucket, keyID(id))
	if err != nil {
		var zero K
		if errors.Is(err, store.ErrNotFound) {
			err = ErrUnknownPreKey
		}
		return zero, fmt.Errorf("%s %d: %w", bucket, id, err)
	}
	defer memzero.Zero(raw)
	return parse(raw)
}

// nextOneTimeID is the stored counter, raised past any stored key so that
// databases written before the counter existed keep increasing too.
func nextOneTimeID(q *store.Query) (uint32, error) {
	next, err := counter(q, nextOneTimeKey)
	if err != nil {
		return 0, err
	}
	if stored := ids(q, oneTimeBucket); len(stored) > 0 && stored[len(stored)-1] >= next {
		next = stored[len(stored)-1] + 1
	}
	return max(next, 1), nil
}

func counter(q *store.Query, key []byte) (uint32, error) {
	raw, err := q.Get(identityBucket, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("getting %s: %w", key, err)
	case len(raw) != 4:
		return 0, fmt.Errorf("corrupt %s", key)
	}
	return binary.BigEndian.Uint32(raw), nil
}

func putCounter(c *store.Command, key []byte, v uint32) error {
	return c.Put(identityBucket, key, keyID(v))
}

func keyID(id uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, id)
}

type StorageOption func(*Storage)

func StorageWithDBPath(path string) StorageOption {
	return func(s *Storage) { s.dbPath = path }
}

func StorageWithPassphraseHandler(fn PassphraseHandler) StorageOption {
	return func(s *Storage) { s.passphraseHandler = fn }
}

// StorageWithAlgorithm picks the signing algorithm of a newly generated
// identity.
func StorageWithAlgorithm(algorithm attest.Algorithm) StorageOption {
	return func(s *Storage) { s.algorithm = algorithm }
}

func StorageWithStoreOptions(opts ...store.Option) StorageOption {
	return func(s *Storage) { s.storeOpts = append(s.storeOpts, opts...) }
}

func StorageWithNoPassphrase() StorageOption {
	return func(s *Storage) {
		s.passphraseHandler = func() ([]byte, error) { return []byte(""), nil }
	}
}
