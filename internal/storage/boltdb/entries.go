package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.etcd.io/bbolt"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
)

// GetEntry returns the entry stored under dn
func (s *Storage) GetEntry(ctx context.Context, dn string) (*models.Entry, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	var entry *models.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		entry, err = getEntry(tx.Bucket(bucketEntries), models.NormalizeDN(dn))
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PutEntry stores entry if the stored version equals expectedVersion
func (s *Storage) PutEntry(ctx context.Context, entry *models.Entry, expectedVersion int64) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	key := entry.Key()
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)

		current, err := storedEntry(bucket, key)
		if err != nil {
			return err
		}
		if version := versionOf(current); version != expectedVersion {
			return fmt.Errorf("%w: %s has version %d, expected %d", storage.ErrWriteConflict, key, version, expectedVersion)
		}

		stored := entry.Clone()
		stored.Version = expectedVersion + 1
		if err := putEntry(tx, key, current, stored); err != nil {
			return err
		}
		entry.Version = stored.Version
		return nil
	})
}

// DeleteEntry removes the entry if its version equals expectedVersion
func (s *Storage) DeleteEntry(ctx context.Context, dn string, expectedVersion int64) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	key := models.NormalizeDN(dn)
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)

		current, err := storedEntry(bucket, key)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", storage.ErrEntryNotFound, key)
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: %s has version %d, expected %d", storage.ErrWriteConflict, key, current.Version, expectedVersion)
		}
		if err := tx.Bucket(bucketChanges).Delete(changeKey(current, key)); err != nil {
			return fmt.Errorf("failed to update change index: %w", err)
		}
		return bucket.Delete([]byte(key))
	})
}

// ScanEntries returns up to limit entries with keys after afterKey
func (s *Storage) ScanEntries(ctx context.Context, afterKey string, limit int) ([]*models.Entry, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	var entries []*models.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()

		k, v := c.First()
		if afterKey != "" {
			k, v = c.Seek([]byte(afterKey))
			if k != nil && bytes.Equal(k, []byte(afterKey)) {
				k, v = c.Next()
			}
		}

		for ; k != nil && len(entries) < limit; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := decodeEntry(k, v)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ScanChangedSince returns up to limit entries changed after since, in key order.
// Only the part of the change index newer than since is read.
func (s *Storage) ScanChangedSince(ctx context.Context, since crdt.ChangeNumber, afterKey string, limit int) ([]*models.Entry, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	var entries []*models.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		var keys []string
		prefix := []byte(since.SortKey() + "|")
		c := tx.Bucket(bucketChanges).Cursor()
		for k, v := c.Seek(prefix); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if bytes.HasPrefix(k, prefix) {
				continue
			}
			if key := string(v); key > afterKey {
				keys = append(keys, key)
			}
		}

		slices.Sort(keys)
		if len(keys) > limit {
			keys = keys[:limit]
		}

		bucket := tx.Bucket(bucketEntries)
		for _, key := range keys {
			entry, err := getEntry(bucket, key)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Import overwrites stored entries in one transaction
func (s *Storage) Import(ctx context.Context, entries []*models.Entry) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		for _, entry := range entries {
			key := entry.Key()
			current, err := storedEntry(bucket, key)
			if err != nil {
				return err
			}
			stored := entry.Clone()
			stored.Version = versionOf(current) + 1
			if err := putEntry(tx, key, current, stored); err != nil {
				return err
			}
		}
		return nil
	})
}

func getEntry(bucket *bbolt.Bucket, key string) (*models.Entry, error) {
	data := bucket.Get([]byte(key))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrEntryNotFound, key)
	}
	return decodeEntry([]byte(key), data)
}

func decodeEntry(key, data []byte) (*models.Entry, error) {
	var entry models.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry %s: %w", key, err)
	}
	return &entry, nil
}

// storedEntry возвращает сохраненную запись или nil, если записи нет
func storedEntry(bucket *bbolt.Bucket, key string) (*models.Entry, error) {
	if bucket.Get([]byte(key)) == nil {
		return nil, nil
	}
	return getEntry(bucket, key)
}

func versionOf(entry *models.Entry) int64 {
	if entry == nil {
		return 0
	}
	return entry.Version
}

// changeKey строит ключ индекса изменений: порядок ключей совпадает с
// порядком newest change number записи.
func changeKey(entry *models.Entry, key string) []byte {
	return []byte(storage.NewestChange(entry).SortKey() + "|" + key)
}

// putEntry сохраняет запись и переносит ее ключ в индексе изменений
func putEntry(tx *bbolt.Tx, key string, previous, entry *models.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := tx.Bucket(bucketEntries).Put([]byte(key), data); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	changes := tx.Bucket(bucketChanges)
	if previous != nil {
		if err := changes.Delete(changeKey(previous, key)); err != nil {
			return fmt.Errorf("failed to update change index: %w", err)
		}
	}
	if err := changes.Put(changeKey(entry, key), []byte(key)); err != nil {
		return fmt.Errorf("failed to update change index: %w", err)
	}
	return nil
}
