package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dirsync/internal/models"
)

func TestBroadcaster_Publish(t *testing.T) {
	healthy := &PeerMock{
		NameFunc: func() string { return "healthy" },
		PushUpdatesFunc: func(ctx context.Context, msgs []*models.UpdateMsg) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.NoError(t, ctx.Err())
			return nil
		},
	}
	failing := &PeerMock{
		NameFunc: func() string { return "failing" },
		PushUpdatesFunc: func(ctx context.Context, msgs []*models.UpdateMsg) error {
			return errors.New("connection refused")
		},
	}

	b := NewBroadcaster([]Peer{healthy, failing}, time.Second, setupTestLogger())
	msg := modMsg(testDN, testUUID, cnAt(1, 1), models.NewModification(models.ModAdd, "mail", "a"))

	// отмененный контекст запроса не прерывает рассылку
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Publish(ctx, msg)

	require.Len(t, healthy.PushUpdatesCalls(), 1)
	require.Len(t, failing.PushUpdatesCalls(), 1)
	assert.Equal(t, []*models.UpdateMsg{msg}, healthy.PushUpdatesCalls()[0].Msgs)
	assert.Len(t, failing.NameCalls(), 1)
}

func TestBroadcaster_PushReachesPeerReplica(t *testing.T) {
	source := newTestReplica(t, 1)
	target := newTestReplica(t, 2)
	ctx := context.Background()

	b := NewBroadcaster([]Peer{feedPeer("replica-2", target)}, time.Second, setupTestLogger())
	o := NewOriginator(source.store, source.registry, source.clock, b, setupTestLogger())

	msg, err := o.Add(ctx, testDN, map[string][]string{"mail": {"a"}})
	require.NoError(t, err)
	_, err = o.Modify(ctx, testDN, []models.Modification{models.NewModification(models.ModAdd, "mail", "b")})
	require.NoError(t, err)

	e := target.entry(t, testDN)
	assert.Equal(t, msg.EntryUUID, e.EntryUUID())
	assert.ElementsMatch(t, []string{"a", "b"}, e.Values("mail"))
}
