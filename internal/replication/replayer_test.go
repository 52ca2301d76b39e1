package replication

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
)

func TestReplayer_AddCreatesEntry(t *testing.T) {
	r := newTestReplica(t, 1)
	ctx := context.Background()

	outcome, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{
		"CN":                  {"Alice"},
		"mail":                {"a"},
		models.AttrHistorical: {"injected"},
	}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	e := r.entry(t, testDN)
	assert.Equal(t, testUUID, e.EntryUUID())
	assert.Equal(t, []string{"Alice"}, e.Values("cn"))
	assert.Equal(t, []string{"a"}, e.Values("mail"))
	assert.Equal(t, []string{"dn:1:0:2:add"}, e.Values(models.AttrHistorical))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.ReplayOutcomes.WithLabelValues("add", "applied")))
}

func TestReplayer_AddOfExistingName(t *testing.T) {
	r := newTestReplica(t, 1)
	ctx := context.Background()
	_, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{"cn": {"Alice"}}))
	require.NoError(t, err)

	// та же запись повторно
	outcome, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{"cn": {"Alice"}}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, outcome)

	// другая запись с тем же DN
	outcome, err = r.replayer.Replay(ctx, addMsg(testDN, otherUUID, cnAt(2, 3), map[string][]string{"cn": {"Mallory"}}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNamingConflict, outcome)
	assert.Equal(t, testUUID, r.entry(t, testDN).EntryUUID())
}

func TestReplayer_Modify(t *testing.T) {
	r := newTestReplica(t, 1)
	ctx := context.Background()
	_, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{"mail": {"a"}}))
	require.NoError(t, err)

	msg := modMsg(testDN, testUUID, cnAt(5, 2), models.NewModification(models.ModAdd, "mail", "b"))
	outcome, err := r.replayer.Replay(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	e := r.entry(t, testDN)
	assert.ElementsMatch(t, []string{"a", "b"}, e.Values("mail"))
	assert.Contains(t, e.Values(models.AttrHistorical), "mail:5:0:2:add:b")
	version := e.Version

	// повторное воспроизведение ничего не меняет и не пишет
	outcome, err = r.replayer.Replay(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, outcome)
	assert.Equal(t, version, r.entry(t, testDN).Version)

	// более старое удаление проигрывает
	outcome, err = r.replayer.Replay(ctx, modMsg(testDN, testUUID, cnAt(3, 3), models.NewModification(models.ModDelete, "mail", "b")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.ElementsMatch(t, []string{"a", "b"}, r.entry(t, testDN).Values("mail"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.SuppressedValues))
}

func TestReplayer_PartialOutcome(t *testing.T) {
	r := newTestReplica(t, 1)
	ctx := context.Background()
	_, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), nil))
	require.NoError(t, err)
	_, err = r.replayer.Replay(ctx, modMsg(testDN, testUUID, cnAt(10, 2), models.NewModification(models.ModAdd, "mail", "b")))
	require.NoError(t, err)

	outcome, err := r.replayer.Replay(ctx, modMsg(testDN, testUUID, cnAt(5, 3),
		models.NewModification(models.ModDelete, "mail", "b"),
		models.NewModification(models.ModAdd, "description", "x"),
	))
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, outcome)

	e := r.entry(t, testDN)
	assert.Equal(t, []string{"b"}, e.Values("mail"))
	assert.Equal(t, []string{"x"}, e.Values("description"))
}

func TestReplayer_UUIDMismatch(t *testing.T) {
	r := newTestReplica(t, 1)
	ctx := context.Background()
	_, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{"mail": {"a"}}))
	require.NoError(t, err)

	outcome, err := r.replayer.Replay(ctx, modMsg(testDN, otherUUID, cnAt(5, 2), models.NewModification(models.ModDelete, "mail")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUUIDMismatch, outcome)
	assert.Equal(t, []string{"a"}, r.entry(t, testDN).Values("mail"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.UUIDMismatches))

	outcome, err = r.replayer.Replay(ctx, delMsg(testDN, otherUUID, cnAt(6, 2)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUUIDMismatch, outcome)
	assert.False(t, r.entry(t, testDN).Deleted)
}

func TestReplayer_MissingEntry(t *testing.T) {
	r := newTestReplica(t, 1)

	outcome, err := r.replayer.Replay(context.Background(), modMsg(testDN, testUUID, cnAt(5, 2), models.NewModification(models.ModAdd, "mail", "a")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissingEntry, outcome)

	outcome, err = r.replayer.Replay(context.Background(), delMsg(testDN, testUUID, cnAt(6, 2)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissingEntry, outcome)
}

func TestReplayer_Delete(t *testing.T) {
	r := newTestReplica(t, 1)
	ctx := context.Background()
	_, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{"mail": {"a"}}))
	require.NoError(t, err)

	outcome, err := r.replayer.Replay(ctx, delMsg(testDN, testUUID, cnAt(6, 2)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	e := r.entry(t, testDN)
	assert.True(t, e.Deleted)
	assert.Empty(t, e.Values("mail"))
	assert.Equal(t, testUUID, e.EntryUUID())
	assert.Equal(t, []string{"dn:1:0:2:add", "dn:6:0:2:del"}, e.Values(models.AttrHistorical))

	outcome, err = r.replayer.Replay(ctx, delMsg(testDN, testUUID, cnAt(6, 2)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, outcome)

	// изменение удаленной записи, даже более новое, не применяется
	outcome, err = r.replayer.Replay(ctx, modMsg(testDN, testUUID, cnAt(9, 3), models.NewModification(models.ModAdd, "mail", "z")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.Empty(t, r.entry(t, testDN).Values("mail"))

	// надгробие не мешает созданию другой записи с тем же DN
	outcome, err = r.replayer.Replay(ctx, addMsg(testDN, otherUUID, cnAt(10, 3), map[string][]string{"cn": {"Alice 2"}}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	e = r.entry(t, testDN)
	assert.False(t, e.Deleted)
	assert.Equal(t, otherUUID, e.EntryUUID())
}

func TestReplayer_DeleteAndModifyConverge(t *testing.T) {
	add := addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{"mail": {"a"}})
	del := delMsg(testDN, testUUID, cnAt(5, 2))
	mod := modMsg(testDN, testUUID, cnAt(7, 3), models.NewModification(models.ModAdd, "mail", "b"))

	orders := [][]*models.UpdateMsg{
		{add, del, mod},
		{add, mod, del},
	}

	var results []*models.Entry
	for _, order := range orders {
		r := newTestReplica(t, 1)
		for _, msg := range order {
			_, err := r.replayer.Replay(context.Background(), msg)
			require.NoError(t, err)
		}
		results = append(results, r.entry(t, testDN))
	}

	for _, e := range results {
		assert.True(t, e.Deleted)
		assert.Empty(t, e.Values("mail"))
	}
}

func TestReplayer_InvalidMessage(t *testing.T) {
	r := newTestReplica(t, 1)

	_, err := r.replayer.Replay(context.Background(), &models.UpdateMsg{Kind: models.OpModify, TargetDN: testDN})
	assert.ErrorIs(t, err, models.ErrInvalidUpdate)
}

func TestReplayer_ClockObservesRemoteChanges(t *testing.T) {
	r := newTestReplica(t, 1)
	remote := crdt.NewChangeNumber(uint64(time.Now().Add(time.Hour).UnixMilli()), 3, 2)

	_, err := r.replayer.Replay(context.Background(), addMsg(testDN, testUUID, remote, nil))
	require.NoError(t, err)

	assert.True(t, r.clock.Next().Newer(remote))
}

// conflictingStore возвращает ErrWriteConflict на первые failures записей
type conflictingStore struct {
	ReplayerStore
	failures int
	puts     int
}

func (s *conflictingStore) PutEntry(ctx context.Context, entry *models.Entry, expectedVersion int64) error {
	s.puts++
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: injected", storage.ErrWriteConflict)
	}
	return s.ReplayerStore.PutEntry(ctx, entry, expectedVersion)
}

func TestReplayer_RetriesWriteConflicts(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		wantErr     bool
		wantPuts    int
		wantRetries float64
	}{
		{name: "recovers", failures: 2, wantPuts: 3, wantRetries: 2},
		{name: "gives up", failures: 10, wantErr: true, wantPuts: 4, wantRetries: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReplica(t, 1)
			store := &conflictingStore{ReplayerStore: r.store, failures: tt.failures}
			replayer := NewReplayer(store, historical.NewResolver(nil, setupTestLogger()), r.codec, nil, r.metrics,
				RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, setupTestLogger())

			outcome, err := replayer.Replay(context.Background(), addMsg(testDN, testUUID, cnAt(1, 2), nil))
			if tt.wantErr {
				assert.ErrorIs(t, err, storage.ErrWriteConflict)
			} else {
				require.NoError(t, err)
				assert.Equal(t, OutcomeApplied, outcome)
			}
			assert.Equal(t, tt.wantPuts, store.puts)
			assert.Equal(t, tt.wantRetries, testutil.ToFloat64(r.metrics.StorageRetries))
		})
	}
}

func TestReplayer_ConcurrentWriterRetried(t *testing.T) {
	r := newTestReplica(t, 1)
	ctx := context.Background()
	_, err := r.replayer.Replay(ctx, addMsg(testDN, testUUID, cnAt(1, 2), map[string][]string{"mail": {"a"}}))
	require.NoError(t, err)

	// другой писатель меняет запись между чтением и записью первой попытки
	store := &racingStore{ReplayerStore: r.store}
	replayer := NewReplayer(store, historical.NewResolver(nil, setupTestLogger()), r.codec, nil, r.metrics,
		RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, setupTestLogger())

	outcome, err := replayer.Replay(ctx, modMsg(testDN, testUUID, cnAt(5, 2), models.NewModification(models.ModAdd, "mail", "b")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	e := r.entry(t, testDN)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, e.Values("mail"))
}

// racingStore перед первой записью вносит стороннее изменение в запись
type racingStore struct {
	ReplayerStore
	raced bool
}

func (s *racingStore) PutEntry(ctx context.Context, entry *models.Entry, expectedVersion int64) error {
	if !s.raced {
		s.raced = true
		current, err := s.ReplayerStore.GetEntry(ctx, entry.DN)
		if err != nil {
			return err
		}
		current.SetValues("mail", append(current.Values("mail"), "c"))
		if err := s.ReplayerStore.PutEntry(ctx, current, current.Version); err != nil {
			return err
		}
	}
	return s.ReplayerStore.PutEntry(ctx, entry, expectedVersion)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name      string
		decisions []historical.Decision
		expected  Outcome
	}{
		{name: "all applied", decisions: []historical.Decision{historical.DecisionApplied, historical.DecisionRewritten}, expected: OutcomeApplied},
		{name: "all suppressed", decisions: []historical.Decision{historical.DecisionSuppressed}, expected: OutcomeSuppressed},
		{name: "some suppressed", decisions: []historical.Decision{historical.DecisionSuppressed, historical.DecisionApplied}, expected: OutcomePartial},
		{name: "partial", decisions: []historical.Decision{historical.DecisionPartial}, expected: OutcomePartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, outcomeOf(historical.Result{Decisions: tt.decisions}))
		})
	}
}
