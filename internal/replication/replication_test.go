package replication

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage/boltdb"
)

const (
	testUUID  = "11111111-2222-3333-4444-555555555555"
	otherUUID = "99999999-8888-7777-6666-555555555555"
	testBase  = "dc=example"
	testDN    = "uid=alice,ou=people,dc=example"
)

// setupTestLogger создает logger для тестов
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testReplica собирает реплику целиком поверх BoltDB во временном каталоге
type testReplica struct {
	store    *boltdb.Storage
	codec    *historical.Codec
	clock    *crdt.Clock
	metrics  *Metrics
	replayer *Replayer
	registry *Registry
	feed     *ChangeFeed
}

func newTestReplica(t *testing.T, replicaID uint16) *testReplica {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)

	logger := setupTestLogger()
	r := &testReplica{
		store:   store,
		codec:   historical.NewCodec(logger, 0),
		clock:   crdt.NewClock(replicaID),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	resolver := historical.NewResolver(models.NewSchema("displayName"), logger)
	r.replayer = NewReplayer(store, resolver, r.codec, r.clock, r.metrics, RetryPolicy{MaxRetries: 3, BaseDelay: 1}, logger)
	r.registry = NewRegistry()
	require.NoError(t, r.registry.Register(testBase, NewDispatcher(testBase, r.replayer, 4, 16, r.metrics, logger)))
	r.feed = NewChangeFeed(store, r.codec, 2)

	t.Cleanup(func() {
		require.NoError(t, r.registry.Close())
		require.NoError(t, store.Close())
	})
	return r
}

func (r *testReplica) entry(t *testing.T, dn string) *models.Entry {
	t.Helper()
	e, err := r.store.GetEntry(context.Background(), dn)
	require.NoError(t, err)
	return e
}

func cnAt(ts uint64, replicaID uint16) crdt.ChangeNumber {
	return crdt.NewChangeNumber(ts, 0, replicaID)
}

func addMsg(dn, id string, cn crdt.ChangeNumber, attrs map[string][]string) *models.UpdateMsg {
	return &models.UpdateMsg{Kind: models.OpAdd, TargetDN: dn, EntryUUID: id, CN: cn, Attributes: attrs}
}

func modMsg(dn, id string, cn crdt.ChangeNumber, mods ...models.Modification) *models.UpdateMsg {
	return &models.UpdateMsg{Kind: models.OpModify, TargetDN: dn, EntryUUID: id, CN: cn, Mods: mods}
}

func delMsg(dn, id string, cn crdt.ChangeNumber) *models.UpdateMsg {
	return &models.UpdateMsg{Kind: models.OpDelete, TargetDN: dn, EntryUUID: id, CN: cn}
}
