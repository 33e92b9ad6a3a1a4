// Package store is a passphrase-protected key/value store on top of bbolt.
// Values are sealed with a random data key that is itself wrapped by a key
// derived from the passphrase with argon2id. Record keys are stored as keyed
// hashes, so the file reveals neither names nor contents.
package store

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/sha3"

	"github.com/kamune-org/vault/internal/enigma"
	"github.com/kamune-org/vault/internal/memzero"
)

const (
	authBucket = "auth"

	kek = "key-encryption-key"
	dek = "data-encryption-key"
	idx = "record-index-key"

	wrappedKey     = "wrapped-key"
	wrappedSaltKey = "wrapped-salt"
	deriveSaltKey  = "derive-salt"
	secretSaltKey  = "secret-salt"
	paramsKey      = "argon2-params"
)

var (
	ErrMissingBucket    = errors.New("bucket not found")
	ErrNotFound         = errors.New("item not found")
	ErrFailedDecryption = errors.New("decryption failed")
	ErrWrongPassphrase  = errors.New("wrong passphrase")
)

type Store struct {
	db     *bolt.DB
	cipher *enigma.Enigma
	index  []byte
}

type options struct {
	timeout time.Duration
	params  argon2Params
	buckets []string
}

type Option func(*options)

// WithArgon2 sets the passphrase hashing cost for a new store. Existing
// stores keep the parameters they were created with.
func WithArgon2(time, memory uint32, threads uint8) Option {
	return func(o *options) {
		o.params = argon2Params{time: time, memory: memory, threads: threads}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBuckets creates the named buckets when the store is opened.
func WithBuckets(names ...string) Option {
	return func(o *options) { o.buckets = append(o.buckets, names...) }
}

// Open opens the database at path, creating it and its keys on first use.
func Open(passphrase []byte, path string, opts ...Option) (*Store, error) {
	o := &options{
		timeout: time.Second,
		params:  argon2Params{time: 1, memory: 64 * 1024, threads: 4},
	}
	for _, opt := range opts {
		opt(o)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: o.timeout})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range append([]string{authBucket}, o.buckets...) {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	secret, err := unwrap(passphrase, db)
	if errors.Is(err, ErrNotFound) {
		secret, err = create(passphrase, db, o.params)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cipher: %w", err)
	}
	defer memzero.Zero(secret.key)

	cipher, err := enigma.NewEnigma(secret.key, secret.salt, dek)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("data cipher: %w", err)
	}
	index := hmac.New(sha3.New256, secret.key)
	index.Write([]byte(idx))

	return &Store{db: db, cipher: cipher, index: index.Sum(nil)}, nil
}

func (s *Store) Close() error {
	memzero.Zero(s.index)
	return s.db.Close()
}

// Query runs fn in a read-only transaction.
func (s *Store) Query(fn func(q *Query) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Query{tx: tx, store: s})
	})
}

// Command runs fn in a read-write transaction. Returning an error rolls
// every change back.
func (s *Store) Command(fn func(c *Command) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Command{Query: Query{tx: tx, store: s}})
	})
}

type argon2Params struct {
	time    uint32
	memory  uint32
	threads uint8
}

func (p argon2Params) marshal() []byte {
	b := binary.BigEndian.AppendUint32(nil, p.time)
	b = binary.BigEndian.AppendUint32(b, p.memory)
	return append(b, p.threads)
}

func unmarshalParams(b []byte) (argon2Params, error) {
	if len(b) != 9 {
		return argon2Params{}, fmt.Errorf("invalid argon2 parameters")
	}
	return argon2Params{
		time:    binary.BigEndian.Uint32(b),
		memory:  binary.BigEndian.Uint32(b[4:]),
		threads: b[8],
	}, nil
}

func (p argon2Params) derive(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, p.time, p.memory, p.threads, enigma.KeySize)
}

type dataKey struct {
	key  []byte
	salt []byte
}

func unwrap(passphrase []byte, db *bolt.DB) (*dataKey, error) {
	var wrapped, wrappedSalt, deriveSalt, secretSalt, rawParams []byte
	err := db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		wrapped = clone(bucket.Get([]byte(wrappedKey)))
		wrappedSalt = clone(bucket.Get([]byte(wrappedSaltKey)))
		deriveSalt = clone(bucket.Get([]byte(deriveSaltKey)))
		secretSalt = clone(bucket.Get([]byte(secretSaltKey)))
		rawParams = clone(bucket.Get([]byte(paramsKey)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	if wrapped == nil || wrappedSalt == nil || deriveSalt == nil ||
		secretSalt == nil || rawParams == nil {
		return nil, ErrNotFound
	}
	params, err := unmarshalParams(rawParams)
	if err != nil {
		return nil, err
	}

	derived := params.derive(passphrase, deriveSalt)
	defer memzero.Zero(derived)
	keyCipher, err := enigma.NewEnigma(derived, wrappedSalt, kek)
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	secret, err := keyCipher.Decrypt(wrapped, []byte(wrappedKey))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return &dataKey{key: secret, salt: secretSalt}, nil
}

func create(passphrase []byte, db *bolt.DB, params argon2Params) (*dataKey, error) {
	secret, secretSalt := random32Bytes(), random32Bytes()
	deriveSalt, wrappedSalt := random32Bytes(), random32Bytes()

	derived := params.derive(passphrase, deriveSalt)
	defer memzero.Zero(derived)
	keyCipher, err := enigma.NewEnigma(derived, wrappedSalt, kek)
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	wrapped, err := keyCipher.Encrypt(secret, []byte(wrappedKey))
	if err != nil {
		return nil, fmt.Errorf("wrap secret: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		for k, v := range map[string][]byte{
			wrappedKey:     wrapped,
			wrappedSaltKey: wrappedSalt,
			deriveSaltKey:  deriveSalt,
			secretSaltKey:  secretSalt,
			paramsKey:      params.marshal(),
		} {
			if err := bucket.Put([]byte(k), v); err != nil {
				return fmt.Errorf("put %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update db: %w", err)
	}

	return &dataKey{key: secret, salt: secretSalt}, nil
}

func random32Bytes() []byte {
	src := make([]byte, 32)
	_, _ = rand.Read(src)
	return src
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
