package replication

import (
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/models"
)

// CorrelateEntry checks that msg targets the same entry that is stored
// under its DN. Must be called before resolution.
// Returns historical.ErrEntryUUIDMismatch otherwise.
func CorrelateEntry(entry *models.Entry, msg *models.UpdateMsg) error {
	return historical.MatchEntryUUID(entry, msg.EntryUUID)
}
