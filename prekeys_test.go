package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kamune-org/vault/pkg/attest"
	"github.com/kamune-org/vault/pkg/prekey"
)

func TestMemoryPreKeysPrune(t *testing.T) {
	a := require.New(t)
	id, err := prekey.GenerateIdentity(attest.Ed25519Algorithm)
	a.NoError(err)
	keys := NewMemoryPreKeys(id)
	defer keys.Wipe()

	a.Empty(keys.PruneSignedPreKeys(time.Now(), time.Hour))
	for range 3 {
		_, err = keys.RotateSignedPreKey()
		a.NoError(err)
	}
	a.Empty(keys.PruneSignedPreKeys(time.Now(), time.Hour))
	a.Equal([]uint32{1, 2}, keys.PruneSignedPreKeys(time.Now().Add(time.Hour), time.Hour))

	_, err = keys.SignedPreKey(2)
	a.ErrorIs(err, ErrUnknownPreKey)
	bundle, err := keys.Bundle(1, 1)
	a.NoError(err)
	a.Equal(uint32(3), bundle.SignedPreKeyID)

	// rotation continues from the active key
	spk, err := keys.RotateSignedPreKey()
	a.NoError(err)
	a.Equal(uint32(4), spk.ID)
}
