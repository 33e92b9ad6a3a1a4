package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

var cheap = WithArgon2(1, 8*1024, 1)

func openTemp(t *testing.T, pass string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.db")
	s, err := Open([]byte(pass), path, cheap)
	require.NoError(t, err)
	return s, path
}

func TestPutGetDelete(t *testing.T) {
	a := require.New(t)
	s, _ := openTemp(t, "correct horse")
	defer s.Close()

	bucket := []byte("sessions")
	err := s.Command(func(c *Command) error {
		return c.Put(bucket, []byte("alice"), []byte("state"))
	})
	a.NoError(err)

	err = s.Query(func(q *Query) error {
		v, err := q.Get(bucket, []byte("alice"))
		a.NoError(err)
		a.Equal([]byte("state"), v)
		a.True(q.Exists(bucket, []byte("alice")))
		a.False(q.Exists(bucket, []byte("bob")))

		_, err = q.Get(bucket, []byte("bob"))
		a.ErrorIs(err, ErrNotFound)
		_, err = q.Get([]byte("nope"), []byte("alice"))
		a.ErrorIs(err, ErrMissingBucket)
		return nil
	})
	a.NoError(err)

	err = s.Command(func(c *Command) error {
		return c.Delete(bucket, []byte("alice"))
	})
	a.NoError(err)
	err = s.Command(func(c *Command) error {
		return c.Delete(bucket, []byte("alice"))
	})
	a.ErrorIs(err, ErrNotFound)
}

func TestCommandRollback(t *testing.T) {
	a := require.New(t)
	s, _ := openTemp(t, "pass")
	defer s.Close()

	bucket := []byte("keys")
	boom := errors.New("boom")
	err := s.Command(func(c *Command) error {
		if err := c.Put(bucket, []byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	a.ErrorIs(err, boom)

	err = s.Query(func(q *Query) error {
		a.False(q.Exists(bucket, []byte("k")))
		return nil
	})
	a.NoError(err)
}

func TestIterate(t *testing.T) {
	a := require.New(t)
	s, _ := openTemp(t, "pass")
	defer s.Close()

	bucket := []byte("peers")
	want := map[string]string{"a": "1", "b": "2", "c": ""}
	err := s.Command(func(c *Command) error {
		for k, v := range want {
			if err := c.Put(bucket, []byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	a.NoError(err)

	got := map[string]string{}
	err = s.Query(func(q *Query) error {
		for k, v := range q.Iterate(bucket) {
			got[string(k)] = string(v)
		}
		for range q.Iterate([]byte("missing")) {
			t.Fatal("missing bucket must yield nothing")
		}
		return nil
	})
	a.NoError(err)
	a.Equal(want, got)
}

func TestReopen(t *testing.T) {
	a := require.New(t)
	s, path := openTemp(t, "secret")
	err := s.Command(func(c *Command) error {
		return c.Put([]byte("b"), []byte("k"), []byte("persisted"))
	})
	a.NoError(err)
	a.NoError(s.Close())

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := Open([]byte("guess"), path, cheap)
		assert.ErrorIs(t, err, ErrWrongPassphrase)
	})
	t.Run("right passphrase", func(t *testing.T) {
		s, err := Open([]byte("secret"), path, cheap)
		require.NoError(t, err)
		defer s.Close()
		err = s.Query(func(q *Query) error {
			v, err := q.Get([]byte("b"), []byte("k"))
			assert.NoError(t, err)
			assert.Equal(t, []byte("persisted"), v)
			return nil
		})
		assert.NoError(t, err)
	})
}

func TestRecordsAreOpaque(t *testing.T) {
	a := require.New(t)
	s, path := openTemp(t, "pass")

	bucket := []byte("sessions")
	err := s.Command(func(c *Command) error {
		return c.Put(bucket, []byte("alice@example"), []byte("top secret value"))
	})
	a.NoError(err)
	a.NoError(s.Close())

	db, err := bolt.Open(path, 0600, nil)
	a.NoError(err)
	defer db.Close()
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			a.NotContains(string(k), "alice")
			a.NotContains(string(v), "alice")
			a.NotContains(string(v), "top secret")
			return nil
		})
	})
	a.NoError(err)
}

func TestTamperedRecord(t *testing.T) {
	a := require.New(t)
	s, _ := openTemp(t, "pass")
	defer s.Close()

	bucket := []byte("b")
	err := s.Command(func(c *Command) error {
		return c.Put(bucket, []byte("k"), []byte("v"))
	})
	a.NoError(err)

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		id := s.recordID([]byte("k"))
		v := append([]byte{}, b.Get(id)...)
		v[len(v)-1] ^= 1
		return b.Put(id, v)
	})
	a.NoError(err)

	err = s.Query(func(q *Query) error {
		_, err := q.Get(bucket, []byte("k"))
		return err
	})
	a.ErrorIs(err, ErrFailedDecryption)
}
