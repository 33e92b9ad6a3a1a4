package vault

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kamune-org/vault/pkg/attest"
	"github.com/kamune-org/vault/pkg/prekey"
	"github.com/kamune-org/vault/pkg/store"
)

func openStorage(t *testing.T, path string, opts ...StorageOption) *Storage {
	t.Helper()
	opts = append([]StorageOption{
		StorageWithDBPath(path),
		StorageWithNoPassphrase(),
		StorageWithStoreOptions(store.WithArgon2(1, 8*1024, 1)),
	}, opts...)
	s, err := OpenStorage(opts...)
	require.NoError(t, err)
	return s
}

func TestStorageIdentity(t *testing.T) {
	a := require.New(t)
	path := filepath.Join(t.TempDir(), "db")

	s := openStorage(t, path, StorageWithAlgorithm(attest.MLDSAAlgorithm))
	id, err := s.Identity()
	a.NoError(err)
	a.Equal(attest.MLDSAAlgorithm, id.Signer.Algorithm())
	a.NoError(s.Close())

	s = openStorage(t, path)
	defer s.Close()
	again, err := s.Identity()
	a.NoError(err)
	a.True(id.Public().Equal(again.Public()))
}

func TestStorageWrongPassphrase(t *testing.T) {
	a := require.New(t)
	path := filepath.Join(t.TempDir(), "db")

	s := openStorage(t, path)
	a.NoError(s.Close())

	_, err := OpenStorage(
		StorageWithDBPath(path),
		StorageWithPassphraseHandler(func() ([]byte, error) {
			return []byte("not the passphrase"), nil
		}),
	)
	a.ErrorIs(err, store.ErrWrongPassphrase)

	_, err = OpenStorage(
		StorageWithDBPath(path),
		StorageWithPassphraseHandler(func() ([]byte, error) {
			return nil, errors.New("no terminal")
		}),
	)
	a.Error(err)
}

func TestStoragePreKeys(t *testing.T) {
	a := require.New(t)
	s := openStorage(t, filepath.Join(t.TempDir(), "db"))
	defer s.Close()

	id, err := s.Identity()
	a.NoError(err)

	_, err = s.Bundle(id, 1, 1)
	a.ErrorIs(err, ErrUnknownPreKey)

	for keyID := uint32(1); keyID <= 2; keyID++ {
		spk, err := prekey.GenerateSignedPreKey(id, keyID)
		a.NoError(err)
		a.NoError(s.StoreSignedPreKey(spk))
	}
	opks, err := prekey.GenerateOneTimePreKeys(3, 10)
	a.NoError(err)
	a.NoError(s.StoreOneTimePreKeys(opks...))
	kem, err := prekey.GenerateKEMPreKey(id, 1)
	a.NoError(err)
	a.NoError(s.StoreKEMPreKey(kem))

	signed, oneTime, kems, err := s.PreKeyIDs()
	a.NoError(err)
	a.Equal([]uint32{1, 2}, signed)
	a.Equal([]uint32{10, 11, 12}, oneTime)
	a.Equal([]uint32{1}, kems)

	available, err := s.AvailableOneTimePreKeys()
	a.NoError(err)
	a.Equal(3, available)

	bundle, err := s.Bundle(id, 5, 6)
	a.NoError(err)
	a.NoError(bundle.Verify())
	a.Equal(uint32(2), bundle.SignedPreKeyID)
	a.Equal(uint32(10), bundle.OneTimePreKeyID)
	a.True(bundle.HasKEMPreKey())
	available, err = s.AvailableOneTimePreKeys()
	a.NoError(err)
	a.Equal(2, available)

	got, err := s.OneTimePreKey(10)
	a.NoError(err)
	a.Equal(opks[0].Key.PublicKey, got.Key.PublicKey)

	a.NoError(s.RemoveOneTimePreKey(10))
	a.ErrorIs(s.RemoveOneTimePreKey(10), ErrUnknownPreKey)
	_, err = s.OneTimePreKey(10)
	a.ErrorIs(err, ErrUnknownPreKey)
	_, err = s.SignedPreKey(9)
	a.ErrorIs(err, ErrUnknownPreKey)

	loaded, err := s.KEMPreKey(1)
	a.NoError(err)
	a.Equal(kem.Private(), loaded.Private())
}

func TestPersistedSessions(t *testing.T) {
	a := require.New(t)
	path := filepath.Join(t.TempDir(), "db")
	bob := newDevice(t, "bob", 1)

	s := openStorage(t, path)
	id, err := s.Identity()
	a.NoError(err)
	alice, err := NewSessionStore(id, StoreWithLogger(quiet), StoreWithPersister(s))
	a.NoError(err)

	toBob, err := alice.Initiate(bob.addr, bob.bundle(t))
	a.NoError(err)
	first, err := toBob.Encrypt([]byte("before restart"))
	a.NoError(err)
	aliceAddr := Address{UserID: "alice", DeviceID: 1}
	_, got, err := bob.store.Accept(aliceAddr, first)
	a.NoError(err)
	a.Equal("before restart", string(got))

	a.NoError(alice.Close())
	a.NoError(s.Close())

	s = openStorage(t, path)
	defer s.Close()
	id, err = s.Identity()
	a.NoError(err)
	alice, err = NewSessionStore(id, StoreWithLogger(quiet), StoreWithPersister(s))
	a.NoError(err)
	defer alice.Close()

	a.True(alice.Has(bob.addr))
	peers, err := alice.Peers()
	a.NoError(err)
	a.Equal([]Address{bob.addr}, peers)

	toBob, err = alice.Get(bob.addr)
	a.NoError(err)
	info, err := toBob.Info()
	a.NoError(err)
	a.Equal(uint32(1), info.Sent)
	a.True(info.AwaitingReply)
	a.True(info.PostQuantum)

	second, err := toBob.Encrypt([]byte("after restart"))
	a.NoError(err)
	a.NotNil(second.Initial)
	toAlice, got, err := bob.store.Accept(aliceAddr, second)
	a.NoError(err)
	a.Equal("after restart", string(got))

	reply, err := toAlice.Encrypt([]byte("welcome back"))
	a.NoError(err)
	got, err = toBob.Decrypt(reply)
	a.NoError(err)
	a.Equal("welcome back", string(got))

	a.NoError(alice.Remove(bob.addr))
	a.False(alice.Has(bob.addr))
	_, err = s.LoadSession(bob.addr)
	a.ErrorIs(err, ErrSessionNotFound)
	a.ErrorIs(s.DeleteSession(bob.addr), ErrSessionNotFound)
}

func TestAcceptWithStoragePreKeys(t *testing.T) {
	a := require.New(t)
	alice := newDevice(t, "alice", 0)

	s := openStorage(t, filepath.Join(t.TempDir(), "db"))
	defer s.Close()
	id, err := s.Identity()
	a.NoError(err)
	spk, err := prekey.GenerateSignedPreKey(id, 1)
	a.NoError(err)
	a.NoError(s.StoreSignedPreKey(spk))
	opks, err := prekey.GenerateOneTimePreKeys(1, 1)
	a.NoError(err)
	a.NoError(s.StoreOneTimePreKeys(opks...))

	bob, err := NewSessionStore(
		id, StoreWithLogger(quiet), StoreWithPreKeys(s), StoreWithPersister(s),
	)
	a.NoError(err)
	defer bob.Close()

	bobAddr := Address{UserID: "bob", DeviceID: 1}
	bundle, err := s.Bundle(id, 1, 1)
	a.NoError(err)
	toBob, err := alice.store.Initiate(bobAddr, bundle)
	a.NoError(err)
	msg, err := toBob.Encrypt([]byte("stored keys"))
	a.NoError(err)

	_, got, err := bob.Accept(alice.addr, msg)
	a.NoError(err)
	a.Equal("stored keys", string(got))

	_, oneTime, _, err := s.PreKeyIDs()
	a.NoError(err)
	a.Empty(oneTime)
	a.True(bob.Has(alice.addr))
}

func TestStorageBundlesCarryDistinctOneTimePreKeys(t *testing.T) {
	a := require.New(t)
	path := filepath.Join(t.TempDir(), "db")
	s := openStorage(t, path)

	id, err := s.Identity()
	a.NoError(err)
	spk, err := prekey.GenerateSignedPreKey(id, 1)
	a.NoError(err)
	a.NoError(s.StoreSignedPreKey(spk))
	generated, err := s.GenerateOneTimePreKeys(2)
	a.NoError(err)
	a.Equal([]uint32{1, 2}, generated)

	first, err := s.Bundle(id, 1, 1)
	a.NoError(err)
	a.Equal(uint32(1), first.OneTimePreKeyID)
	a.NoError(s.Close())

	// the published mark survives a restart
	s = openStorage(t, path)
	defer s.Close()
	second, err := s.Bundle(id, 1, 1)
	a.NoError(err)
	a.Equal(uint32(2), second.OneTimePreKeyID)

	third, err := s.Bundle(id, 1, 1)
	a.NoError(err)
	a.False(third.HasOneTimePreKey())
	a.NoError(third.Verify())

	// both keys stay usable until an agreement consumes them
	_, oneTime, _, err := s.PreKeyIDs()
	a.NoError(err)
	a.Equal([]uint32{1, 2}, oneTime)

	a.NoError(s.RemoveOneTimePreKey(1))
	a.NoError(s.RemoveOneTimePreKey(2))
	generated, err = s.GenerateOneTimePreKeys(1)
	a.NoError(err)
	a.Equal([]uint32{3}, generated)
	fourth, err := s.Bundle(id, 1, 1)
	a.NoError(err)
	a.Equal(uint32(3), fourth.OneTimePreKeyID)
}

func TestStorageOneTimeCounterFollowsStoredKeys(t *testing.T) {
	a := require.New(t)
	s := openStorage(t, filepath.Join(t.TempDir(), "db"))
	defer s.Close()

	opks, err := prekey.GenerateOneTimePreKeys(2, 40)
	a.NoError(err)
	a.NoError(s.StoreOneTimePreKeys(opks...))
	a.NoError(s.RemoveOneTimePreKey(40))
	a.NoError(s.RemoveOneTimePreKey(41))

	generated, err := s.GenerateOneTimePreKeys(1)
	a.NoError(err)
	a.Equal([]uint32{42}, generated)

	_, err = s.GenerateOneTimePreKeys(-1)
	a.Error(err)
}

func TestStoragePruneSignedPreKeys(t *testing.T) {
	a := require.New(t)
	s := openStorage(t, filepath.Join(t.TempDir(), "db"))
	defer s.Close()

	id, err := s.Identity()
	a.NoError(err)
	pruned, err := s.PruneSignedPreKeys(time.Now(), time.Hour)
	a.NoError(err)
	a.Empty(pruned)

	for keyID := uint32(1); keyID <= 3; keyID++ {
		spk, err := prekey.GenerateSignedPreKey(id, keyID)
		a.NoError(err)
		a.NoError(s.StoreSignedPreKey(spk))
	}

	pruned, err = s.PruneSignedPreKeys(time.Now(), time.Hour)
	a.NoError(err)
	a.Empty(pruned, "successors are too young")

	pruned, err = s.PruneSignedPreKeys(time.Now().Add(time.Hour), time.Hour)
	a.NoError(err)
	a.Equal([]uint32{1, 2}, pruned)

	signed, _, _, err := s.PreKeyIDs()
	a.NoError(err)
	a.Equal([]uint32{3}, signed)
	_, err = s.SignedPreKey(1)
	a.ErrorIs(err, ErrUnknownPreKey)
	bundle, err := s.Bundle(id, 1, 1)
	a.NoError(err)
	a.Equal(uint32(3), bundle.SignedPreKeyID)
}

func TestStorageRemembersHandshakes(t *testing.T) {
	a := require.New(t)
	path := filepath.Join(t.TempDir(), "db")
	alice := newDevice(t, "alice", 0)
	bobAddr := Address{UserID: "bob", DeviceID: 1}

	s := openStorage(t, path)
	id, err := s.Identity()
	a.NoError(err)
	spk, err := prekey.GenerateSignedPreKey(id, 1)
	a.NoError(err)
	a.NoError(s.StoreSignedPreKey(spk))

	bob, err := NewSessionStore(
		id, StoreWithLogger(quiet), StoreWithPreKeys(s), StoreWithPersister(s),
	)
	a.NoError(err)
	bundle, err := s.Bundle(id, 1, 1)
	a.NoError(err)
	a.False(bundle.HasOneTimePreKey())

	toBob, err := alice.store.Initiate(bobAddr, bundle)
	a.NoError(err)
	msg, err := toBob.Encrypt([]byte("no one-time key"))
	a.NoError(err)
	_, _, err = bob.Accept(alice.addr, transmit(t, msg))
	a.NoError(err)

	seen, err := s.SeenHandshake(alice.addr, msg.Initial.Ephemeral)
	a.NoError(err)
	a.True(seen)

	a.NoError(bob.Close())
	a.NoError(s.Close())

	s = openStorage(t, path)
	defer s.Close()
	bob, err = NewSessionStore(
		id, StoreWithLogger(quiet), StoreWithPreKeys(s), StoreWithPersister(s),
	)
	a.NoError(err)
	defer bob.Close()

	a.NoError(bob.Remove(alice.addr))
	_, _, err = bob.Accept(alice.addr, transmit(t, msg))
	a.ErrorIs(err, ErrAuthentication)
	a.False(bob.Has(alice.addr))

	for i := range maxHandshakes + 1 {
		a.NoError(s.RecordHandshake(alice.addr, ephemeralKey{byte(i), 0xff}))
	}
	seen, err = s.SeenHandshake(alice.addr, msg.Initial.Ephemeral)
	a.NoError(err)
	a.False(seen, "log is bounded")
	seen, err = s.SeenHandshake(alice.addr, ephemeralKey{byte(maxHandshakes), 0xff})
	a.NoError(err)
	a.True(seen)
}
