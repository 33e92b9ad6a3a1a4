package kdf

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestExpandRFC5869(t *testing.T) {
	tests := []struct {
		name string
		ikm  string
		salt string
		info string
		size int
		okm  string
	}{
		{
			name: "basic",
			ikm:  "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			salt: "000102030405060708090a0b0c",
			info: "f0f1f2f3f4f5f6f7f8f9",
			size: 42,
			okm: "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf" +
				"34007208d5b887185865",
		},
		{
			name: "zero-length salt and info",
			ikm:  "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			salt: "",
			info: "",
			size: 42,
			okm: "8da4e775a563c18f715f802a063c5a31b8a11f5c5ee1879ec3454e5f3c738d2d" +
				"9d201395faa4b61a96c8",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			okm, err := Expand(
				unhex(t, tc.ikm), unhex(t, tc.salt), unhex(t, tc.info), tc.size,
			)
			require.NoError(t, err)
			assert.Equal(t, tc.okm, hex.EncodeToString(okm))
		})
	}
}

func TestExpandDeterministic(t *testing.T) {
	a := require.New(t)
	ikm := bytes.Repeat([]byte{0xaa}, 32)

	first, err := Expand(ikm, nil, []byte("info"), KeySize)
	a.NoError(err)
	second, err := Expand(ikm, nil, []byte("info"), KeySize)
	a.NoError(err)
	a.Equal(first, second)

	other, err := Expand(ikm, nil, []byte("other"), KeySize)
	a.NoError(err)
	a.NotEqual(first, other)
}

func TestExpandSize(t *testing.T) {
	for _, size := range []int{0, -1, MaxSize + 1} {
		_, err := Expand([]byte("ikm"), nil, nil, size)
		assert.ErrorIs(t, err, ErrInvalidSize)
	}
	out, err := Expand([]byte("ikm"), nil, nil, MaxSize)
	require.NoError(t, err)
	assert.Len(t, out, MaxSize)
}

func TestChainStep(t *testing.T) {
	a := assert.New(t)
	ck := bytes.Repeat([]byte{0x42}, KeySize)

	next, mk := ChainStep(ck)
	a.Len(next, KeySize)
	a.Len(mk, KeySize)
	a.NotEqual(next, mk)
	a.NotEqual(ck, next)

	next2, mk2 := ChainStep(ck)
	a.Equal(next, next2)
	a.Equal(mk, mk2)

	// successive steps never repeat a message key
	_, mk3 := ChainStep(next)
	a.NotEqual(mk, mk3)
}

func TestRootStep(t *testing.T) {
	a := require.New(t)
	rk := bytes.Repeat([]byte{0x01}, KeySize)
	dh := bytes.Repeat([]byte{0x02}, KeySize)

	root, chain, err := RootStep(rk, dh)
	a.NoError(err)
	a.Len(root, KeySize)
	a.Len(chain, KeySize)
	a.NotEqual(root, chain)
	a.NotEqual(rk, root)

	root2, chain2, err := RootStep(rk, dh)
	a.NoError(err)
	a.Equal(root, root2)
	a.Equal(chain, chain2)

	root3, _, err := RootStep(rk, bytes.Repeat([]byte{0x03}, KeySize))
	a.NoError(err)
	a.NotEqual(root, root3)
}
