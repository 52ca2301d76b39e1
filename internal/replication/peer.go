package replication

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
)

const defaultPushTimeout = 10 * time.Second

//go:generate moq -out peer_mock_test.go . Peer

// Peer is a remote replica.
type Peer interface {
	// Name identifies the peer; catch-up cursors are stored under it.
	Name() string

	// PushUpdates sends operations for the peer to replay.
	PushUpdates(ctx context.Context, msgs []*models.UpdateMsg) error

	// FetchChanges returns up to limit operations newer than since in
	// ascending change number order.
	FetchChanges(ctx context.Context, since crdt.ChangeNumber, limit int) ([]*models.UpdateMsg, error)
}

// Broadcaster pushes local changes to every peer. A failed push is only
// logged: the peer picks the change up on its next catch-up.
type Broadcaster struct {
	logger  *slog.Logger
	peers   []Peer
	timeout time.Duration
}

// NewBroadcaster creates a Broadcaster. Each push is bounded by timeout.
func NewBroadcaster(peers []Peer, timeout time.Duration, logger *slog.Logger) *Broadcaster {
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &Broadcaster{peers: peers, timeout: timeout, logger: logger}
}

// Publish pushes msg to all peers in parallel and waits for them.
// It does not inherit cancellation from ctx, so a finished client request
// does not abort the fan-out.
func (b *Broadcaster) Publish(ctx context.Context, msg *models.UpdateMsg) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	var g errgroup.Group
	for _, peer := range b.peers {
		g.Go(func() error {
			if err := peer.PushUpdates(ctx, []*models.UpdateMsg{msg}); err != nil {
				b.logger.Warn("Failed to push update to peer",
					"peer", peer.Name(),
					"msg", msg.String(),
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
