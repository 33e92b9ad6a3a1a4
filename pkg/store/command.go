package store

import (
	"fmt"
)

type Command struct {
	Query
}

// Put seals value and stores it under key, creating the bucket if needed.
func (c *Command) Put(bucket, key, value []byte) error {
	b, err := c.tx.CreateBucketIfNotExists(bucket)
	if err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	id := c.store.recordID(key)
	sealed, err := c.store.seal(bucket, id, key, value)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	if err := b.Put(id, sealed); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (c *Command) Delete(bucket, key []byte) error {
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	id := c.store.recordID(key)
	if b.Get(id) == nil {
		return ErrNotFound
	}
	if err := b.Delete(id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
