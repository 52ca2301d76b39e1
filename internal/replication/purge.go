package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/storage"
)

// PurgeStore is the storage a Purger needs.
type PurgeStore interface {
	storage.Cursor
	storage.Writer
}

// Purger removes tombstones whose deletion is older than the purge delay.
// Replicas that were offline longer than the delay can no longer learn
// about those deletions through catch-up.
type Purger struct {
	store   PurgeStore
	codec   *historical.Codec
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
	delay   time.Duration
}

// NewPurger creates a Purger. A zero delay disables purging.
func NewPurger(store PurgeStore, codec *historical.Codec, delay time.Duration, metrics *Metrics, logger *slog.Logger) *Purger {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Purger{
		store:   store,
		codec:   codec,
		delay:   delay,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// PurgeTombstones deletes expired tombstones and returns how many were removed.
func (p *Purger) PurgeTombstones(ctx context.Context) (int, error) {
	if p.delay <= 0 {
		return 0, nil
	}
	horizon := crdt.NewChangeNumber(uint64(p.now().Add(-p.delay).UnixMilli()), 0, 0)

	purged := 0
	after := ""
	for {
		page, err := p.store.ScanEntries(ctx, after, defaultPageSize)
		if err != nil {
			return purged, fmt.Errorf("failed to scan entries: %w", err)
		}
		if len(page) == 0 {
			return purged, nil
		}
		after = page[len(page)-1].Key()

		for _, entry := range page {
			if !entry.Deleted {
				continue
			}
			deleted := p.codec.Load(entry).DeletedCN()
			if deleted.IsZero() || !deleted.Older(horizon) {
				continue
			}

			err := p.store.DeleteEntry(ctx, entry.DN, entry.Version)
			switch {
			case err == nil:
				purged++
				p.metrics.TombstonesPurged.Inc()
			case errors.Is(err, storage.ErrWriteConflict), errors.Is(err, storage.ErrEntryNotFound):
				// запись изменилась после чтения, повторим в следующий раз
				p.logger.Debug("Skipping tombstone changed during purge", "dn", entry.DN)
			default:
				return purged, fmt.Errorf("failed to delete tombstone %s: %w", entry.DN, err)
			}
		}
	}
}

// Run purges every interval until ctx is cancelled.
func (p *Purger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeTombstones(ctx)
			if err != nil {
				p.logger.Error("Tombstone purge failed", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Info("Purged tombstones", "count", n)
			}
		}
	}
}
