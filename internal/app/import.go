package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/internal/validation"
)

// importEntry запись во входном JSON файле импорта
type importEntry struct {
	Attributes map[string][]string `json:"attributes"`
	DN         string              `json:"dn"`
}

// Import загружает записи из JSON массива в хранилище в обход репликации.
// Записи без entryUUID получают новый UUID, записи без истории получают
// запись о создании с номером изменения этой реплики.
func (a *App) Import(ctx context.Context, r io.Reader) (int, error) {
	var in []importEntry
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return 0, fmt.Errorf("failed to decode import file: %w", err)
	}

	entries := make([]*models.Entry, 0, len(in))
	for i, ie := range in {
		if err := validation.ValidateDN(ie.DN); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
		if _, ok := a.registry.Lookup(ie.DN); !ok {
			return 0, fmt.Errorf("entry %d: %w: %s", i, replication.ErrNoDomain, ie.DN)
		}

		entry := &models.Entry{DN: ie.DN, Attributes: make(map[string][]string, len(ie.Attributes))}
		for name, values := range ie.Attributes {
			if err := validation.ValidateAttributeType(name); err != nil {
				return 0, fmt.Errorf("entry %d: %w", i, err)
			}
			entry.SetValues(name, values)
		}

		if entry.EntryUUID() == "" {
			entry.SetValues(models.AttrEntryUUID, []string{uuid.NewString()})
		} else if err := validation.ValidateEntryUUID(entry.EntryUUID()); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}

		h := a.codec.Load(entry)
		if h.EntryCN().IsZero() {
			a.codec.Save(entry, h.WithEntryAdded(a.clock.Next()))
		} else {
			a.clock.Update(h.Newest())
		}
		entries = append(entries, entry)
	}

	if err := a.store.Import(ctx, entries); err != nil {
		return 0, fmt.Errorf("failed to import entries: %w", err)
	}

	a.logger.Info("Entries imported", "count", len(entries))
	return len(entries), nil
}
