package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/storage"
)

// SetPeerCursor saves the newest change number pulled from peer
func (s *Storage) SetPeerCursor(ctx context.Context, peer string, cn crdt.ChangeNumber) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peer_cursors (peer, timestamp, seq, replica_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer) DO UPDATE SET
			timestamp = excluded.timestamp,
			seq = excluded.seq,
			replica_id = excluded.replica_id,
			updated_at = excluded.updated_at
	`, peer, int64(cn.Timestamp), cn.Seq, cn.ReplicaID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save peer cursor: %w", err)
	}
	return nil
}

// GetPeerCursor retrieves the newest change number pulled from peer
// Returns a zero ChangeNumber if nothing was pulled yet
func (s *Storage) GetPeerCursor(ctx context.Context, peer string) (crdt.ChangeNumber, error) {
	if s.closed.Load() {
		return crdt.ChangeNumber{}, storage.ErrStorageClosed
	}

	var (
		ts        int64
		seq       uint16
		replicaID uint16
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, seq, replica_id FROM peer_cursors WHERE peer = ?`, peer,
	).Scan(&ts, &seq, &replicaID)
	if errors.Is(err, sql.ErrNoRows) {
		return crdt.ChangeNumber{}, nil
	}
	if err != nil {
		return crdt.ChangeNumber{}, fmt.Errorf("failed to get peer cursor: %w", err)
	}

	return crdt.NewChangeNumber(uint64(ts), seq, replicaID), nil
}
