// Package boltdb implements entry storage on top of a single BoltDB file.
package boltdb

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.etcd.io/bbolt"

	"github.com/iudanet/dirsync/internal/storage"
)

var (
	// BoltDB bucket names
	bucketEntries = []byte("entries")
	bucketPeers   = []byte("peers")
	// bucketChanges индекс <newest cn>|<dn key> для выборки изменений
	bucketChanges = []byte("changes")
)

var _ storage.Storage = (*Storage)(nil)

// Storage represents BoltDB storage implementation
type Storage struct {
	db     *bbolt.DB
	closed atomic.Bool
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}

	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют.
// Индекс изменений строится заново, если его еще нет.
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketPeers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}

		if tx.Bucket(bucketChanges) != nil {
			return nil
		}
		changes, err := tx.CreateBucket(bucketChanges)
		if err != nil {
			return fmt.Errorf("failed to create %s bucket: %w", bucketChanges, err)
		}
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			entry, err := decodeEntry(k, v)
			if err != nil {
				return err
			}
			return changes.Put(changeKey(entry, string(k)), k)
		})
	})
}
