package x3dh

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamune-org/vault/pkg/attest"
	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/prekey"
)

type responder struct {
	id  *prekey.Identity
	spk *prekey.SignedPreKey
	opk *prekey.OneTimePreKey
	kem *prekey.KEMPreKey
}

func newResponder(t *testing.T) *responder {
	t.Helper()
	a := require.New(t)

	id, err := prekey.GenerateIdentity(attest.Ed25519Algorithm)
	a.NoError(err)
	spk, err := prekey.GenerateSignedPreKey(id, 1)
	a.NoError(err)
	opks, err := prekey.GenerateOneTimePreKeys(1, 10)
	a.NoError(err)
	kem, err := prekey.GenerateKEMPreKey(id, 20)
	a.NoError(err)
	return &responder{id: id, spk: spk, opk: opks[0], kem: kem}
}

func (r *responder) keys() PreKeys {
	return PreKeys{SignedPreKey: r.spk, OneTimePreKey: r.opk, KEMPreKey: r.kem}
}

func newInitiator(t *testing.T) *prekey.Identity {
	t.Helper()
	id, err := prekey.GenerateIdentity(attest.Ed25519Algorithm)
	require.NoError(t, err)
	return id
}

type countingReader struct {
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return rand.Read(p)
}

func TestAgreement(t *testing.T) {
	tests := []struct {
		name        string
		withOTK     bool
		withKEM     bool
		opts        []Option
		missingOTK  bool
		postQuantum bool
	}{
		{name: "full", withOTK: true, withKEM: true, postQuantum: true},
		{name: "without one-time pre-key", withKEM: true, missingOTK: true, postQuantum: true},
		{name: "classical", withOTK: true},
		{name: "classical without one-time pre-key", missingOTK: true},
		{
			name:    "kem ignored",
			withOTK: true,
			withKEM: true,
			opts:    []Option{WithoutKEM()},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := require.New(t)
			bob := newResponder(t)
			alice := newInitiator(t)

			var opk *prekey.OneTimePreKey
			if tc.withOTK {
				opk = bob.opk
			}
			var kem *prekey.KEMPreKey
			if tc.withKEM {
				kem = bob.kem
			}
			bundle := prekey.NewBundle(bob.id, 7, 1, bob.spk, opk, kem)

			init, err := Initiate(alice, bundle, tc.opts...)
			a.NoError(err)
			a.Len(init.RootKey, 32)
			a.Equal(tc.missingOTK, init.MissingOneTimePreKey)
			a.Equal(tc.postQuantum, init.PostQuantum)
			a.Equal(uint32(7), init.Message.RegistrationID)

			// the message survives the wire
			raw, err := init.Message.MarshalBinary()
			a.NoError(err)
			msg, err := UnmarshalInitialMessage(raw)
			a.NoError(err)
			a.Equal(init.Message, msg)

			resp, err := Respond(bob.id, bob.keys(), msg)
			a.NoError(err)
			a.Equal(init.RootKey, resp.RootKey)
			a.Equal(init.AssociatedData, resp.AssociatedData)
			a.Equal(init.MissingOneTimePreKey, resp.MissingOneTimePreKey)
			a.Equal(init.PostQuantum, resp.PostQuantum)
			a.Nil(resp.Message)

			wantAD := append(alice.DH.MarshalPublicKey(), bob.id.DH.MarshalPublicKey()...)
			a.Equal(wantAD, init.AssociatedData)
		})
	}
}

func TestFreshEphemeralPerAgreement(t *testing.T) {
	a := require.New(t)
	bob := newResponder(t)
	alice := newInitiator(t)
	bundle := prekey.NewBundle(bob.id, 1, 1, bob.spk, nil, nil)

	first, err := Initiate(alice, bundle)
	a.NoError(err)
	second, err := Initiate(alice, bundle)
	a.NoError(err)
	a.NotEqual(first.Message.Ephemeral, second.Message.Ephemeral)
	a.NotEqual(first.RootKey, second.RootKey)
}

func TestUntrustedBundle(t *testing.T) {
	a := require.New(t)
	bob := newResponder(t)
	alice := newInitiator(t)

	bundle := prekey.NewBundle(bob.id, 1, 1, bob.spk, bob.opk, bob.kem)
	bundle.SignedPreKeySignature[0] ^= 0x01

	r := &countingReader{}
	res, err := Initiate(alice, bundle, WithRandom(r))
	a.ErrorIs(err, ErrUntrustedBundle)
	a.Nil(res)
	a.Zero(r.reads, "no key material may be generated for an untrusted bundle")
}

func TestRespondUnknownPreKey(t *testing.T) {
	bob := newResponder(t)
	alice := newInitiator(t)
	bundle := prekey.NewBundle(bob.id, 1, 1, bob.spk, bob.opk, bob.kem)
	init, err := Initiate(alice, bundle)
	require.NoError(t, err)

	other := newResponder(t)
	tests := []struct {
		name string
		keys PreKeys
	}{
		{"missing signed pre-key", PreKeys{OneTimePreKey: bob.opk, KEMPreKey: bob.kem}},
		{"missing one-time pre-key", PreKeys{SignedPreKey: bob.spk, KEMPreKey: bob.kem}},
		{"missing kem pre-key", PreKeys{SignedPreKey: bob.spk, OneTimePreKey: bob.opk}},
		{"wrong one-time pre-key", PreKeys{
			SignedPreKey:  bob.spk,
			OneTimePreKey: &prekey.OneTimePreKey{ID: 99, Key: other.opk.Key},
			KEMPreKey:     bob.kem,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Respond(bob.id, tc.keys, init.Message)
			assert.ErrorIs(t, err, ErrUnknownPreKey)
		})
	}

	_, err = Respond(bob.id, bob.keys(), nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestTamperedInitialMessage(t *testing.T) {
	a := require.New(t)
	bob := newResponder(t)
	alice := newInitiator(t)
	bundle := prekey.NewBundle(bob.id, 1, 1, bob.spk, bob.opk, nil)

	init, err := Initiate(alice, bundle)
	a.NoError(err)

	msg := *init.Message
	msg.Ephemeral[5] ^= 0x20
	resp, err := Respond(bob.id, bob.keys(), &msg)
	if err == nil {
		a.NotEqual(init.RootKey, resp.RootKey)
	}

	mallory := newInitiator(t)
	msg = *init.Message
	msg.Identity = mallory.Public()
	resp, err = Respond(bob.id, bob.keys(), &msg)
	a.NoError(err)
	a.NotEqual(init.RootKey, resp.RootKey)
}

func TestInitiateRandomFailure(t *testing.T) {
	bob := newResponder(t)
	bundle := prekey.NewBundle(bob.id, 1, 1, bob.spk, nil, nil)

	_, err := Initiate(newInitiator(t), bundle, WithRandom(bytes.NewReader(nil)))
	require.ErrorIs(t, err, exchange.ErrKeyGeneration)
}

func TestUnmarshalInitialMessageErrors(t *testing.T) {
	_, err := UnmarshalInitialMessage(nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = UnmarshalInitialMessage([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
