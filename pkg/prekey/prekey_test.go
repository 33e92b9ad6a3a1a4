package prekey

import (
	"bytes"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamune-org/vault/pkg/attest"
	"github.com/kamune-org/vault/pkg/exchange"
)

func newIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := GenerateIdentity(attest.Ed25519Algorithm)
	require.NoError(t, err)
	return id
}

func TestIdentity(t *testing.T) {
	for _, alg := range []attest.Algorithm{
		attest.Ed25519Algorithm, attest.MLDSAAlgorithm,
	} {
		t.Run(alg.String(), func(t *testing.T) {
			a := require.New(t)

			id, err := GenerateIdentity(alg)
			a.NoError(err)
			pub := id.Public()
			a.Equal(alg, pub.Algorithm)

			b, err := id.MarshalBinary()
			a.NoError(err)
			restored, err := UnmarshalIdentity(b)
			a.NoError(err)
			a.True(pub.Equal(restored.Public()))

			pb, err := pub.MarshalBinary()
			a.NoError(err)
			restoredPub, err := UnmarshalPublicIdentity(pb)
			a.NoError(err)
			a.True(pub.Equal(restoredPub))
		})
	}
}

func TestGenerateIdentityFailure(t *testing.T) {
	_, err := generateIdentity(attest.Ed25519Algorithm, bytes.NewReader(nil))
	require.ErrorIs(t, err, exchange.ErrKeyGeneration)

	// enough for the dh key but not for the signing key
	short := bytes.NewReader(make([]byte, exchange.KeySize+3))
	_, err = generateIdentity(attest.Ed25519Algorithm, short)
	require.ErrorIs(t, err, exchange.ErrKeyGeneration)
}

func TestSignedPreKey(t *testing.T) {
	a := require.New(t)
	id := newIdentity(t)

	spk, err := GenerateSignedPreKey(id, 7)
	a.NoError(err)
	a.Equal(uint32(7), spk.ID)
	a.True(id.Public().Verify(signedPreKeyMessage(spk.Key.PublicKey[:]), spk.Signature))

	b, err := spk.MarshalBinary()
	a.NoError(err)
	restored, err := UnmarshalSignedPreKey(b)
	a.NoError(err)
	a.Equal(spk.ID, restored.ID)
	a.Equal(spk.Key.PublicKey, restored.Key.PublicKey)
	a.Equal(spk.Signature, restored.Signature)
	a.True(spk.CreatedAt.Equal(restored.CreatedAt))
}

func TestSignedPreKeyExpired(t *testing.T) {
	a := assert.New(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	spk, err := generateSignedPreKey(newIdentity(t), 1, bytes.NewReader(make([]byte, 64)), now)
	require.NoError(t, err)

	a.False(spk.Expired(now.Add(time.Hour), 0))
	a.True(spk.Expired(now.Add(RotationPeriod), 0))
	a.True(spk.Expired(now.Add(2*time.Hour), time.Hour))
}

func TestOneTimePreKeys(t *testing.T) {
	a := require.New(t)

	keys, err := GenerateOneTimePreKeys(5, 10)
	a.NoError(err)
	a.Len(keys, 5)
	for i, k := range keys {
		a.Equal(uint32(10+i), k.ID)
	}

	b, err := keys[0].MarshalBinary()
	a.NoError(err)
	restored, err := UnmarshalOneTimePreKey(b)
	a.NoError(err)
	a.Equal(keys[0].ID, restored.ID)
	a.Equal(keys[0].Key.PublicKey, restored.Key.PublicKey)

	_, err = GenerateOneTimePreKeys(2, 1<<32-1)
	a.Error(err)

	_, err = generateOneTimePreKeys(3, 0, bytes.NewReader(make([]byte, 40)))
	a.ErrorIs(err, exchange.ErrKeyGeneration)
}

func TestKEMPreKey(t *testing.T) {
	a := require.New(t)
	id := newIdentity(t)

	k, err := GenerateKEMPreKey(id, 3)
	a.NoError(err)

	b, err := k.MarshalBinary()
	a.NoError(err)
	restored, err := UnmarshalKEMPreKey(b)
	a.NoError(err)
	a.Equal(k.Public, restored.Public)
	a.Equal(k.Private(), restored.Private())

	k.Wipe()
	a.Equal(make([]byte, len(restored.Private())), k.Private())
}

func TestBundle(t *testing.T) {
	a := require.New(t)
	id := newIdentity(t)
	spk, err := GenerateSignedPreKey(id, 1)
	a.NoError(err)
	opks, err := GenerateOneTimePreKeys(1, 100)
	a.NoError(err)
	kem, err := GenerateKEMPreKey(id, 2)
	a.NoError(err)

	bundle := NewBundle(id, 4242, 3, spk, opks[0], kem)
	a.True(VerifySignedPreKey(bundle))
	a.True(bundle.HasOneTimePreKey())
	a.True(bundle.HasKEMPreKey())

	t.Run("round trip", func(t *testing.T) {
		b, err := bundle.MarshalBinary()
		a.NoError(err)
		restored, err := UnmarshalBundle(b)
		a.NoError(err)
		a.Equal(bundle, restored)
		a.NoError(restored.Verify())
	})
	t.Run("without optional keys", func(t *testing.T) {
		plain := NewBundle(id, 1, 1, spk, nil, nil)
		b, err := plain.MarshalBinary()
		a.NoError(err)
		restored, err := UnmarshalBundle(b)
		a.NoError(err)
		a.False(restored.HasOneTimePreKey())
		a.False(restored.HasKEMPreKey())
		a.True(VerifySignedPreKey(restored))
	})
	t.Run("tampered signed pre-key", func(t *testing.T) {
		bad := *bundle
		bad.SignedPreKey[0] ^= 1
		a.ErrorIs(bad.Verify(), ErrUntrustedBundle)
		a.False(VerifySignedPreKey(&bad))
	})
	t.Run("tampered signature", func(t *testing.T) {
		bad := *bundle
		bad.SignedPreKeySignature = slices.Clone(bundle.SignedPreKeySignature)
		bad.SignedPreKeySignature[3] ^= 0x10
		a.ErrorIs(bad.Verify(), ErrUntrustedBundle)
	})
	t.Run("tampered kem pre-key", func(t *testing.T) {
		bad := *bundle
		bad.KEMPreKey = slices.Clone(bundle.KEMPreKey)
		bad.KEMPreKey[0] ^= 1
		a.ErrorIs(bad.Verify(), ErrUntrustedBundle)
	})
	t.Run("signed by someone else", func(t *testing.T) {
		bad := *bundle
		bad.Identity = newIdentity(t).Public()
		a.ErrorIs(bad.Verify(), ErrUntrustedBundle)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := UnmarshalBundle([]byte{0xff, 0xff})
		a.ErrorIs(err, ErrInvalidRecord)
		a.False(VerifySignedPreKey(nil))
	})
}

func TestPool(t *testing.T) {
	a := require.New(t)
	p := NewPool(1)

	keys, err := p.Refill(3)
	a.NoError(err)
	a.Len(keys, 3)
	a.Equal(uint32(4), p.NextID())

	more, err := p.Refill(2)
	a.NoError(err)
	a.Equal(uint32(4), more[0].ID)
	a.Equal(5, p.Len())

	first, ok := p.Take()
	a.True(ok)
	a.Equal(uint32(1), first.ID)
	second, ok := p.Take()
	a.True(ok)
	a.Equal(uint32(2), second.ID)
	a.Equal(3, p.Available())

	got, ok := p.Get(1)
	a.True(ok)
	a.Same(first, got)

	a.NoError(p.Consume(1))
	a.ErrorIs(p.Consume(1), ErrUnknownPreKey)
	_, ok = p.Get(1)
	a.False(ok)
	a.Equal(4, p.Len())

	p.Add(&OneTimePreKey{ID: 50, Key: keys[1].Key.Clone()})
	a.Equal(uint32(51), p.NextID())

	for p.Available() > 0 {
		_, ok := p.Take()
		a.True(ok)
	}
	_, ok = p.Take()
	a.False(ok)

	p.Clear()
	a.Zero(p.Len())
	a.Zero(p.Available())
	a.Equal(uint32(51), p.NextID())
}

func TestClone(t *testing.T) {
	a := require.New(t)
	id := newIdentity(t)

	spk, err := GenerateSignedPreKey(id, 1)
	a.NoError(err)
	c := spk.Clone()
	c.Wipe()
	a.Equal(spk.Key.PublicKey, c.Key.PublicKey)
	a.NotEqual(spk.Key.MarshalPrivateKey(), c.Key.MarshalPrivateKey())

	kem, err := GenerateKEMPreKey(id, 1)
	a.NoError(err)
	kc := kem.Clone()
	kc.Wipe()
	a.NotEqual(kem.Private(), kc.Private())
	a.Equal(kem.Public, kc.Public)
}
