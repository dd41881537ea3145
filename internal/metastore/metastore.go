// Package metastore wraps the reserved namespace holding one record per
// bucket: bucketName → serialized bucket attributes. It is the source of
// truth for bucket existence.
package metastore

import (
	"errors"
	"fmt"

	"github.com/aigotowork/bucketd/internal/kv"
)

// Namespace is the reserved namespace backing the metastore.
const Namespace = "__metastore"

// UsersBucket is the well-known bucket created at master startup.
const UsersBucket = "usersBucket"

// UsersBucketOwner owns the well-known users bucket.
const UsersBucketOwner = "admin"

// Backend is a synchronous KV view of one namespace. Both the master's
// direct store access and a worker's RPC namespace handle satisfy it.
// Writes commit durably before returning; Get reports a missing key as
// kv.ErrNotFound.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Store exposes bucket-level operations over the metastore namespace.
// Missing buckets surface as kv.ErrNotFound; the façade maps them to the
// public taxonomy.
type Store struct {
	b Backend
}

// New wraps a metastore backend.
func New(b Backend) *Store {
	return &Store{b: b}
}

// HasBucket reports whether a bucket record exists.
func (s *Store) HasBucket(name string) (bool, error) {
	_, err := s.b.Get([]byte(name))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("metastore lookup failed: %w", err)
	}
	return true, nil
}

// GetBucketAttrs returns a bucket's serialized attributes.
func (s *Store) GetBucketAttrs(name string) ([]byte, error) {
	attrs, err := s.b.Get([]byte(name))
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// PutBucketAttrs stores a bucket's serialized attributes.
func (s *Store) PutBucketAttrs(name string, attrs []byte) error {
	if err := s.b.Put([]byte(name), attrs); err != nil {
		return fmt.Errorf("metastore write failed: %w", err)
	}
	return nil
}

// DeleteBucket removes a bucket's record. Deleting an absent bucket
// succeeds.
func (s *Store) DeleteBucket(name string) error {
	err := s.b.Delete([]byte(name))
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("metastore delete failed: %w", err)
	}
	return nil
}
