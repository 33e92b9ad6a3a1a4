package enigma

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	mathrand "math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const benchSizePool = 1_000

func randomKey(t testing.TB) []byte {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpen(t *testing.T) {
	var (
		a   = require.New(t)
		key = randomKey(t)
		msg = []byte(rand.Text())
		ad  = []byte("associated")
	)

	sealed, err := Seal(key, msg, ad)
	a.NoError(err)
	a.Len(sealed.Ciphertext, len(msg))
	a.NotEqual(msg, sealed.Ciphertext)

	opened, err := Open(key, sealed, ad)
	a.NoError(err)
	a.Equal(msg, opened)

	second, err := Seal(key, msg, ad)
	a.NoError(err)
	a.NotEqual(sealed.Nonce, second.Nonce)
	a.NotEqual(sealed.Ciphertext, second.Ciphertext)
}

func TestSealEmptyPlaintext(t *testing.T) {
	a := require.New(t)
	key := randomKey(t)

	sealed, err := Seal(key, nil, nil)
	a.NoError(err)
	a.Empty(sealed.Ciphertext)

	opened, err := Open(key, sealed, nil)
	a.NoError(err)
	a.Empty(opened)
}

func TestSealWithNonceVector(t *testing.T) {
	// RFC 8439 section 2.8.2
	a := require.New(t)
	key, _ := hex.DecodeString(
		"808182838485868788898a8b8c8d8e8f909192939495969798999a9b9c9d9e9f",
	)
	nonce, _ := hex.DecodeString("070000004041424344454647")
	ad, _ := hex.DecodeString("50515253c0c1c2c3c4c5c6c7")
	plaintext := []byte("Ladies and Gentlemen of the class of '99: " +
		"If I could offer you only one tip for the future, sunscreen would be it.")

	sealed, err := SealWithNonce(key, nonce, plaintext, ad)
	a.NoError(err)
	a.Equal(
		"1ae10b594f09e26a7e902ecbd0600691",
		hex.EncodeToString(sealed.Tag[:]),
	)
	a.Equal(
		"d31a8d34648e60db7b86afbc53ef7ec2",
		hex.EncodeToString(sealed.Ciphertext[:16]),
	)
}

func TestOpenTampered(t *testing.T) {
	var (
		key = randomKey(t)
		msg = []byte("attack at dawn")
		ad  = []byte("header")
	)
	sealed, err := Seal(key, msg, ad)
	require.NoError(t, err)

	flip := func(b []byte, bit int) { b[bit/8] ^= 1 << (bit % 8) }
	clone := func() *Sealed {
		c := *sealed
		c.Ciphertext = bytes.Clone(sealed.Ciphertext)
		return &c
	}

	t.Run("ciphertext", func(t *testing.T) {
		for bit := range len(sealed.Ciphertext) * 8 {
			c := clone()
			flip(c.Ciphertext, bit)
			_, err := Open(key, c, ad)
			assert.ErrorIs(t, err, ErrAuthentication)
		}
	})
	t.Run("tag", func(t *testing.T) {
		for bit := range TagSize * 8 {
			c := clone()
			flip(c.Tag[:], bit)
			_, err := Open(key, c, ad)
			assert.ErrorIs(t, err, ErrAuthentication)
		}
	})
	t.Run("nonce", func(t *testing.T) {
		for bit := range NonceSize * 8 {
			c := clone()
			flip(c.Nonce[:], bit)
			_, err := Open(key, c, ad)
			assert.ErrorIs(t, err, ErrAuthentication)
		}
	})
	t.Run("associated data", func(t *testing.T) {
		for bit := range len(ad) * 8 {
			other := bytes.Clone(ad)
			flip(other, bit)
			_, err := Open(key, sealed, other)
			assert.ErrorIs(t, err, ErrAuthentication)
		}
	})
	t.Run("key", func(t *testing.T) {
		_, err := Open(randomKey(t), sealed, ad)
		assert.ErrorIs(t, err, ErrAuthentication)
	})
	t.Run("truncated", func(t *testing.T) {
		c := clone()
		c.Ciphertext = c.Ciphertext[:len(c.Ciphertext)-1]
		_, err := Open(key, c, ad)
		assert.ErrorIs(t, err, ErrAuthentication)
	})
}

func TestBadLengths(t *testing.T) {
	a := assert.New(t)

	_, err := Seal([]byte("short"), []byte("x"), nil)
	a.ErrorIs(err, ErrInvalidKeyLength)

	_, err = SealWithNonce(randomKey(t), []byte{1, 2, 3}, []byte("x"), nil)
	a.ErrorIs(err, ErrInvalidNonceLength)
}

func TestSealRandomFailure(t *testing.T) {
	_, err := seal(bytes.NewReader(nil), randomKey(t), []byte("x"), nil)
	require.Error(t, err)
}

func TestEnigma(t *testing.T) {
	var (
		a      = require.New(t)
		secret = []byte(rand.Text())
		salt   = []byte(rand.Text())
		msg    = []byte(rand.Text())
	)

	cipher, err := NewEnigma(secret, salt, "test")
	a.NoError(err)

	encrypted, err := cipher.Encrypt(msg, []byte("bucket"))
	a.NoError(err)
	a.Len(encrypted, NonceSize+len(msg)+TagSize)

	decrypted, err := cipher.Decrypt(encrypted, []byte("bucket"))
	a.NoError(err)
	a.Equal(msg, decrypted)

	_, err = cipher.Decrypt(encrypted, []byte("other"))
	a.ErrorIs(err, ErrAuthentication)

	_, err = cipher.Decrypt(encrypted[:NonceSize], nil)
	a.ErrorIs(err, ErrAuthentication)

	other, err := NewEnigma(secret, salt, "other")
	a.NoError(err)
	_, err = other.Decrypt(encrypted, []byte("bucket"))
	a.ErrorIs(err, ErrAuthentication)
}

func TestEnigmaWipesKey(t *testing.T) {
	a := require.New(t)
	key := randomKey(t)
	kept := append([]byte(nil), key...)

	cipher, err := keyedEnigma(key)
	a.NoError(err)
	a.Equal(make([]byte, KeySize), key)

	encrypted, err := cipher.Encrypt([]byte("at rest"), nil)
	a.NoError(err)
	sealed := &Sealed{Ciphertext: encrypted[NonceSize : len(encrypted)-TagSize]}
	copy(sealed.Nonce[:], encrypted[:NonceSize])
	copy(sealed.Tag[:], encrypted[len(encrypted)-TagSize:])
	plaintext, err := Open(kept, sealed, nil)
	a.NoError(err)
	a.Equal([]byte("at rest"), plaintext)
}

func BenchmarkSeal(b *testing.B) {
	key := randomKey(b)
	messages := make([][]byte, benchSizePool)
	for i := range messages {
		messages[i] = []byte(rand.Text())
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		_, _ = Seal(key, messages[mathrand.IntN(benchSizePool)], nil)
	}
}

func BenchmarkOpen(b *testing.B) {
	key := randomKey(b)
	messages := make([]*Sealed, benchSizePool)
	for i := range messages {
		messages[i], _ = Seal(key, []byte(rand.Text()), nil)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		_, _ = Open(key, messages[mathrand.IntN(benchSizePool)], nil)
	}
}
