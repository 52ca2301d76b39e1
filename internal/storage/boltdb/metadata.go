package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/storage"
)

// SetPeerCursor saves the newest change number pulled from peer
func (s *Storage) SetPeerCursor(ctx context.Context, peer string, cn crdt.ChangeNumber) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(cn)
	if err != nil {
		return fmt.Errorf("failed to marshal peer cursor: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketPeers).Put([]byte(peer), data); err != nil {
			return fmt.Errorf("failed to save peer cursor: %w", err)
		}
		return nil
	})
}

// GetPeerCursor retrieves the newest change number pulled from peer
// Returns a zero ChangeNumber if nothing was pulled yet
func (s *Storage) GetPeerCursor(ctx context.Context, peer string) (crdt.ChangeNumber, error) {
	if s.closed.Load() {
		return crdt.ChangeNumber{}, storage.ErrStorageClosed
	}

	var cn crdt.ChangeNumber
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPeers).Get([]byte(peer))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &cn)
	})
	if err != nil {
		return crdt.ChangeNumber{}, fmt.Errorf("failed to get peer cursor: %w", err)
	}

	return cn, nil
}
