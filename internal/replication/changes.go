package replication

import (
	"context"
	"fmt"
	"slices"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
)

const defaultPageSize = 256

// ChangeFeed rebuilds the operations a replica has applied from the
// history stored in its entries. Only entries the change index reports as
// changed after since are read.
type ChangeFeed struct {
	store    storage.ChangeIndex
	codec    *historical.Codec
	pageSize int
}

// NewChangeFeed creates a ChangeFeed reading entries pageSize at a time.
func NewChangeFeed(store storage.ChangeIndex, codec *historical.Codec, pageSize int) *ChangeFeed {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &ChangeFeed{store: store, codec: codec, pageSize: pageSize}
}

// ChangesSince returns up to limit operations with a change number newer
// than since, merged across all entries in ascending order. limit <= 0
// returns all of them.
func (f *ChangeFeed) ChangesSince(ctx context.Context, since crdt.ChangeNumber, limit int) ([]*models.UpdateMsg, error) {
	var ops []*historical.FakeOperation

	after := ""
	for {
		page, err := f.store.ScanChangedSince(ctx, since, after, f.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entries: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, entry := range page {
			for op := range f.codec.FakeOperations(entry) {
				if op.CN.Newer(since) {
					ops = append(ops, op)
				}
			}
		}
		ops = smallest(ops, limit)
		after = page[len(page)-1].Key()
	}

	slices.SortFunc(ops, historical.CompareFakeOperations)

	msgs := make([]*models.UpdateMsg, len(ops))
	for i, op := range ops {
		msgs[i] = op.Message()
	}
	return msgs, nil
}

// smallest keeps the limit oldest operations so memory stays bounded by
// limit plus one page.
func smallest(ops []*historical.FakeOperation, limit int) []*historical.FakeOperation {
	if limit <= 0 || len(ops) <= limit {
		return ops
	}
	slices.SortFunc(ops, historical.CompareFakeOperations)
	return ops[:limit]
}
