package store

import (
	"crypto/hmac"
	"fmt"
	"iter"
	"log/slog"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/sha3"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kamune-org/vault/internal/wire"
)

const (
	recordKey protowire.Number = iota + 1
	recordValue
)

type Query struct {
	tx    *bolt.Tx
	store *Store
}

// Get returns the decrypted value stored under key.
func (q *Query) Get(bucket, key []byte) ([]byte, error) {
	b := q.tx.Bucket(bucket)
	if b == nil {
		return nil, ErrMissingBucket
	}
	id := q.store.recordID(key)
	sealed := b.Get(id)
	if sealed == nil {
		return nil, ErrNotFound
	}
	_, value, err := q.store.open(bucket, id, sealed)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (q *Query) Exists(bucket, key []byte) bool {
	b := q.tx.Bucket(bucket)
	return b != nil && b.Get(q.store.recordID(key)) != nil
}

// Iterate yields every record of bucket in storage order. Records that fail
// to decrypt are logged and skipped.
func (q *Query) Iterate(bucket []byte) iter.Seq2[[]byte, []byte] {
	b := q.tx.Bucket(bucket)
	return func(yield func(k, v []byte) bool) {
		if b == nil {
			return
		}
		c := b.Cursor()
		for id, sealed := c.First(); id != nil; id, sealed = c.Next() {
			key, value, err := q.store.open(bucket, id, sealed)
			if err != nil {
				slog.Warn(
					"decrypting record",
					slog.String("bucket", string(bucket)),
					slog.Any("error", err),
				)
				continue
			}
			if !yield(key, value) {
				return
			}
		}
	}
}

func (s *Store) recordID(key []byte) []byte {
	h := hmac.New(sha3.New256, s.index)
	h.Write(key)
	return h.Sum(nil)
}

func (s *Store) seal(bucket, id, key, value []byte) ([]byte, error) {
	var e wire.Encoder
	e.Bytes(recordKey, key).Bytes(recordValue, value)
	return s.cipher.Encrypt(e.Encode(), recordAD(bucket, id))
}

func (s *Store) open(bucket, id, sealed []byte) (key, value []byte, err error) {
	plain, err := s.cipher.Decrypt(sealed, recordAD(bucket, id))
	if err != nil {
		return nil, nil, ErrFailedDecryption
	}
	err = wire.Decode(plain, func(num protowire.Number, f wire.Field) error {
		var err error
		switch num {
		case recordKey:
			key, err = f.Bytes()
		case recordValue:
			value, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("decoding record: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return key, value, nil
}

// recordAD binds a sealed record to its bucket and slot.
func recordAD(bucket, id []byte) []byte {
	ad := make([]byte, 0, len(bucket)+1+len(id))
	ad = append(ad, bucket...)
	ad = append(ad, 0)
	return append(ad, id...)
}
