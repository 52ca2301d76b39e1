package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/dirsync/internal/storage"
)

const defaultBatchSize = 500

// CatchUpResult contains catch-up results for one peer
type CatchUpResult struct {
	Outcomes map[Outcome]int // количество операций по исходу воспроизведения
	Peer     string
	Pulled   int // количество полученных операций
}

// CatchUp pulls the operations a replica missed from its peers and replays
// them. Progress per peer is kept as the change number of the last
// replayed operation.
type CatchUp struct {
	submitter Submitter
	cursors   storage.Metadata
	metrics   *Metrics
	logger    *slog.Logger
	peers     []Peer
	batchSize int
}

// NewCatchUp creates a CatchUp over peers
func NewCatchUp(peers []Peer, submitter Submitter, cursors storage.Metadata, batchSize int, metrics *Metrics, logger *slog.Logger) *CatchUp {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &CatchUp{
		peers:     peers,
		submitter: submitter,
		cursors:   cursors,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run catches up with every peer. A failing peer does not stop the others.
func (c *CatchUp) Run(ctx context.Context) ([]*CatchUpResult, error) {
	results := make([]*CatchUpResult, 0, len(c.peers))
	var errs []error
	for _, peer := range c.peers {
		res, err := c.SyncPeer(ctx, peer)
		results = append(results, res)
		if err != nil {
			c.logger.Warn("Catch-up with peer failed", "peer", peer.Name(), "pulled", res.Pulled, "error", err)
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// SyncPeer pulls and replays everything peer has after the stored cursor.
// The cursor advances after every replayed batch, so an interrupted
// catch-up resumes where it stopped.
func (c *CatchUp) SyncPeer(ctx context.Context, peer Peer) (*CatchUpResult, error) {
	name := peer.Name()
	result := &CatchUpResult{Peer: name, Outcomes: make(map[Outcome]int)}

	cursor, err := c.cursors.GetPeerCursor(ctx, name)
	if err != nil {
		return result, fmt.Errorf("failed to get cursor of %s: %w", name, err)
	}

	c.logger.Info("Starting catch-up", "peer", name, "since", cursor.String())

	for {
		msgs, err := peer.FetchChanges(ctx, cursor, c.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to fetch changes from %s: %w", name, err)
		}
		if len(msgs) == 0 {
			break
		}

		last := cursor
		var replayErr error
		for _, msg := range msgs {
			if !msg.CN.Newer(last) {
				replayErr = fmt.Errorf("peer %s returned %s out of order", name, msg.CN)
				break
			}
			outcome, err := c.submitter.Submit(ctx, msg)
			if err != nil {
				replayErr = err
				break
			}
			result.Pulled++
			result.Outcomes[outcome]++
			c.metrics.CatchUpPulled.WithLabelValues(name).Inc()
			last = msg.CN
		}

		if last.Newer(cursor) {
			if err := c.cursors.SetPeerCursor(ctx, name, last); err != nil {
				return result, fmt.Errorf("failed to save cursor of %s: %w", name, err)
			}
			cursor = last
		}
		if replayErr != nil {
			return result, replayErr
		}
		if len(msgs) < c.batchSize {
			break
		}
	}

	c.logger.Info("Catch-up completed", "peer", name, "pulled", result.Pulled, "cursor", cursor.String())
	return result, nil
}

// RunEvery catches up on start and then every interval until ctx is cancelled.
func (c *CatchUp) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// ошибки уже залогированы в Run
		_, _ = c.Run(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
