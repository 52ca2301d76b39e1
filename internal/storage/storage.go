// Package storage defines the capabilities the replication core needs from
// an entry store. Each engine implements the small interfaces below; callers
// depend only on the ones they use.
package storage

import (
	"context"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/models"
)

// Reader reads single entries.
type Reader interface {
	// GetEntry returns the entry stored under dn, tombstones included.
	// Returns ErrEntryNotFound if nothing is stored.
	GetEntry(ctx context.Context, dn string) (*models.Entry, error)
}

// Writer stores entries under optimistic concurrency control.
type Writer interface {
	// PutEntry stores entry if the stored version equals expectedVersion
	// (0 means the DN must be free). On success entry.Version is advanced.
	// Returns ErrWriteConflict otherwise.
	PutEntry(ctx context.Context, entry *models.Entry, expectedVersion int64) error

	// DeleteEntry physically removes the entry if its version equals expectedVersion.
	// Returns ErrEntryNotFound or ErrWriteConflict.
	DeleteEntry(ctx context.Context, dn string, expectedVersion int64) error
}

// Cursor walks all entries in key order.
type Cursor interface {
	// ScanEntries returns up to limit entries whose key sorts after afterKey.
	// An empty page means the walk is complete.
	ScanEntries(ctx context.Context, afterKey string, limit int) ([]*models.Entry, error)
}

// ChangeIndex finds entries by the newest change number in their history.
type ChangeIndex interface {
	// ScanChangedSince returns up to limit entries whose key sorts after
	// afterKey and whose history holds a change newer than since, in key order.
	ScanChangedSince(ctx context.Context, since crdt.ChangeNumber, afterKey string, limit int) ([]*models.Entry, error)
}

// Importer loads entries in bulk, overwriting what is stored.
type Importer interface {
	Import(ctx context.Context, entries []*models.Entry) error
}

// Metadata keeps replication bookkeeping.
type Metadata interface {
	// GetPeerCursor returns the newest change number already pulled from peer.
	// Returns a zero ChangeNumber if nothing was pulled yet.
	GetPeerCursor(ctx context.Context, peer string) (crdt.ChangeNumber, error)

	// SetPeerCursor stores the newest change number pulled from peer.
	SetPeerCursor(ctx context.Context, peer string, cn crdt.ChangeNumber) error
}

// Storage is the full set of capabilities one engine provides.
type Storage interface {
	Reader
	Writer
	Cursor
	ChangeIndex
	Importer
	Metadata
	Close() error
}

// NewestChange returns the newest change number recorded in the history of
// entry. Malformed records are ignored.
func NewestChange(entry *models.Entry) crdt.ChangeNumber {
	h, _ := historical.Decode(entry.Values(models.AttrHistorical))
	return h.Newest()
}
