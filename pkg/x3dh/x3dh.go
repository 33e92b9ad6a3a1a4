// Package x3dh implements the asynchronous initial key agreement: the
// initiator combines its identity key, a fresh ephemeral key and the
// responder's published pre-keys into a shared root key, optionally hardened
// with a post-quantum KEM secret.
package x3dh

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/kamune-org/vault/internal/memzero"
	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/kdf"
	"github.com/kamune-org/vault/pkg/prekey"
)

var (
	ErrUntrustedBundle = prekey.ErrUntrustedBundle
	ErrUnknownPreKey   = prekey.ErrUnknownPreKey
	ErrInvalidMessage  = errors.New("invalid initial message")

	info   = []byte("vault-x3dh")
	infoPQ = []byte("vault-x3dh-pq")
)

// Result is the outcome of a successful agreement on either side.
type Result struct {
	RootKey []byte
	// AssociatedData binds the two identities, initiator first.
	AssociatedData []byte
	// Message is set on the initiator side and must reach the responder.
	Message *InitialMessage
	// MissingOneTimePreKey marks an agreement without a one-time pre-key,
	// which has weaker replay protection for the first message.
	MissingOneTimePreKey bool
	PostQuantum          bool
}

func (r *Result) Wipe() {
	if r != nil {
		memzero.Zero(r.RootKey)
	}
}

// PreKeys are the responder's private keys named by an InitialMessage.
// OneTimePreKey and KEMPreKey are nil when the message does not use them.
type PreKeys struct {
	SignedPreKey  *prekey.SignedPreKey
	OneTimePreKey *prekey.OneTimePreKey
	KEMPreKey     *prekey.KEMPreKey
}

type options struct {
	kem    exchange.KEM
	random io.Reader
	// noKEM skips the post-quantum step even when the bundle offers it.
	noKEM bool
}

type Option func(*options)

// WithKEM sets the KEM used for the post-quantum secret. ML-KEM-768 is used
// otherwise.
func WithKEM(kem exchange.KEM) Option {
	return func(o *options) { o.kem = kem }
}

// WithRandom sets the randomness source for the ephemeral key and the KEM
// encapsulation.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// WithoutKEM makes the initiator ignore a KEM pre-key in the bundle.
func WithoutKEM() Option {
	return func(o *options) { o.noKEM = true }
}

func newOptions(opts []Option) *options {
	o := &options{kem: exchange.MLKEM768{}, random: rand.Reader}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initiate runs the initiator side against bundle. Signatures are checked
// before any secret is computed.
func Initiate(
	local *prekey.Identity, bundle *prekey.Bundle, opts ...Option,
) (*Result, error) {
	if err := bundle.Verify(); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	ephemeral, err := exchange.NewKeyPairFrom(o.random)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	defer ephemeral.Wipe()

	var secrets [][]byte
	defer func() { memzero.All(secrets...) }()
	exchanges := []dh{
		{local.DH, bundle.SignedPreKey[:]},
		{ephemeral, bundle.Identity.DH[:]},
		{ephemeral, bundle.SignedPreKey[:]},
	}
	if bundle.HasOneTimePreKey() {
		exchanges = append(exchanges, dh{ephemeral, bundle.OneTimePreKey[:]})
	}
	for i, ex := range exchanges {
		s, err := ex.key.Exchange(ex.remote)
		if err != nil {
			return nil, fmt.Errorf("%w: dh%d: %w", ErrUntrustedBundle, i+1, err)
		}
		secrets = append(secrets, s)
	}

	msg := &InitialMessage{
		RegistrationID: bundle.RegistrationID,
		Identity:       local.Public(),
		Ephemeral:      ephemeral.PublicKey,
		SignedPreKeyID: bundle.SignedPreKeyID,
	}
	if bundle.HasOneTimePreKey() {
		id := bundle.OneTimePreKeyID
		msg.OneTimePreKeyID = &id
	}

	pq := bundle.HasKEMPreKey() && !o.noKEM
	if pq {
		ct, ss, err := o.kem.Encapsulate(o.random, bundle.KEMPreKey)
		if err != nil {
			return nil, fmt.Errorf("encapsulating to kem pre-key: %w", err)
		}
		secrets = append(secrets, ss)
		id := bundle.KEMPreKeyID
		msg.KEMPreKeyID = &id
		msg.KEMCiphertext = ct
	}

	root, err := deriveRoot(secrets, pq)
	if err != nil {
		return nil, err
	}
	return &Result{
		RootKey:              root,
		AssociatedData:       associatedData(local.DH.PublicKey[:], bundle.Identity.DH[:]),
		Message:              msg,
		MissingOneTimePreKey: !bundle.HasOneTimePreKey(),
		PostQuantum:          pq,
	}, nil
}

// Respond runs the responder side for msg with the private pre-keys it
// names. The caller looks the keys up and is responsible for removing the
// one-time pre-key once the first message has been authenticated.
func Respond(
	local *prekey.Identity, keys PreKeys, msg *InitialMessage, opts ...Option,
) (*Result, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	if err := keys.match(msg); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	var secrets [][]byte
	defer func() { memzero.All(secrets...) }()
	exchanges := []dh{
		{keys.SignedPreKey.Key, msg.Identity.DH[:]},
		{local.DH, msg.Ephemeral[:]},
		{keys.SignedPreKey.Key, msg.Ephemeral[:]},
	}
	if msg.OneTimePreKeyID != nil {
		exchanges = append(exchanges, dh{keys.OneTimePreKey.Key, msg.Ephemeral[:]})
	}
	for i, ex := range exchanges {
		s, err := ex.key.Exchange(ex.remote)
		if err != nil {
			return nil, fmt.Errorf("%w: dh%d: %w", ErrInvalidMessage, i+1, err)
		}
		secrets = append(secrets, s)
	}

	pq := msg.KEMPreKeyID != nil
	if pq {
		ss, err := o.kem.Decapsulate(keys.KEMPreKey.Private(), msg.KEMCiphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: decapsulating: %w", ErrInvalidMessage, err)
		}
		secrets = append(secrets, ss)
	}

	root, err := deriveRoot(secrets, pq)
	if err != nil {
		return nil, err
	}
	return &Result{
		RootKey:              root,
		AssociatedData:       associatedData(msg.Identity.DH[:], local.DH.PublicKey[:]),
		MissingOneTimePreKey: msg.OneTimePreKeyID == nil,
		PostQuantum:          pq,
	}, nil
}

type dh struct {
	key    *exchange.KeyPair
	remote []byte
}

func (k PreKeys) match(msg *InitialMessage) error {
	if k.SignedPreKey == nil || k.SignedPreKey.ID != msg.SignedPreKeyID {
		return fmt.Errorf("%w: signed pre-key %d", ErrUnknownPreKey, msg.SignedPreKeyID)
	}
	if id := msg.OneTimePreKeyID; id != nil &&
		(k.OneTimePreKey == nil || k.OneTimePreKey.ID != *id) {
		return fmt.Errorf("%w: one-time pre-key %d", ErrUnknownPreKey, *id)
	}
	if id := msg.KEMPreKeyID; id != nil &&
		(k.KEMPreKey == nil || k.KEMPreKey.ID != *id) {
		return fmt.Errorf("%w: kem pre-key %d", ErrUnknownPreKey, *id)
	}
	return nil
}

func deriveRoot(secrets [][]byte, pq bool) ([]byte, error) {
	ikm := make([]byte, 0, 32*(len(secrets)+1))
	ikm = append(ikm, bytes.Repeat([]byte{0xFF}, 32)...)
	for _, s := range secrets {
		ikm = append(ikm, s...)
	}
	defer memzero.Zero(ikm)

	i := info
	if pq {
		i = infoPQ
	}
	root, err := kdf.Expand(ikm, make([]byte, kdf.KeySize), i, kdf.KeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving root key: %w", err)
	}
	return root, nil
}

func associatedData(initiator, responder []byte) []byte {
	ad := make([]byte, 0, len(initiator)+len(responder))
	ad = append(ad, initiator...)
	return append(ad, responder...)
}
