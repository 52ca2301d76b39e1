// Package storagetest holds behaviour tests shared by all storage engines.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
)

// Factory opens an empty storage. The returned storage is closed by the suite.
type Factory func(t *testing.T) storage.Storage

// Run executes the shared storage tests against the engine built by newStorage.
func Run(t *testing.T, newStorage Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{name: "put and get", fn: testPutGet},
		{name: "get missing", fn: testGetMissing},
		{name: "optimistic concurrency", fn: testWriteConflict},
		{name: "tombstone", fn: testTombstone},
		{name: "delete", fn: testDelete},
		{name: "scan", fn: testScan},
		{name: "changed since", fn: testChangedSince},
		{name: "import", fn: testImport},
		{name: "peer cursor", fn: testPeerCursor},
		{name: "closed", fn: testClosed},
		{name: "close while reading", fn: testCloseWhileReading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStorage(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewEntry создает тестовую запись с атрибутом cn
func NewEntry(dn string, cn ...string) *models.Entry {
	e := models.NewEntry(dn, uuid.New())
	if len(cn) > 0 {
		e.SetValues("cn", cn)
	}
	return e
}

func testPutGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	entry := NewEntry("uid=alice,dc=example", "Alice")

	require.NoError(t, s.PutEntry(ctx, entry, 0))
	assert.Equal(t, int64(1), entry.Version)

	// ключ не зависит от регистра и пробелов в DN
	got, err := s.GetEntry(ctx, "UID=Alice, DC=Example")
	require.NoError(t, err)
	assert.Equal(t, entry.DN, got.DN)
	assert.Equal(t, entry.EntryUUID(), got.EntryUUID())
	assert.Equal(t, []string{"Alice"}, got.Values("cn"))
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.Deleted)

	got.SetValues("cn", []string{"Alice", "Al"})
	require.NoError(t, s.PutEntry(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	again, err := s.GetEntry(ctx, entry.DN)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Al"}, again.Values("cn"))
}

func testGetMissing(t *testing.T, s storage.Storage) {
	_, err := s.GetEntry(context.Background(), "uid=nobody,dc=example")
	assert.ErrorIs(t, err, storage.ErrEntryNotFound)
}

func testWriteConflict(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	entry := NewEntry("uid=bob,dc=example", "Bob")
	require.NoError(t, s.PutEntry(ctx, entry, 0))

	// повторное создание
	dup := NewEntry("uid=bob,dc=example", "Other")
	assert.ErrorIs(t, s.PutEntry(ctx, dup, 0), storage.ErrWriteConflict)
	assert.Equal(t, int64(0), dup.Version)

	// устаревшая версия
	stale := entry.Clone()
	entry.SetValues("cn", []string{"Robert"})
	require.NoError(t, s.PutEntry(ctx, entry, 1))
	assert.ErrorIs(t, s.PutEntry(ctx, stale, 1), storage.ErrWriteConflict)

	got, err := s.GetEntry(ctx, entry.DN)
	require.NoError(t, err)
	assert.Equal(t, []string{"Robert"}, got.Values("cn"))
}

func testTombstone(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	entry := NewEntry("uid=carol,dc=example", "Carol")
	entry.SetValues(models.AttrHistorical, []string{"dn:1:0:1:add", "dn:2:0:1:del"})
	require.NoError(t, s.PutEntry(ctx, entry, 0))

	tomb := entry.Tombstone()
	require.NoError(t, s.PutEntry(ctx, tomb, entry.Version))

	got, err := s.GetEntry(ctx, entry.DN)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Empty(t, got.Values("cn"))
	assert.Equal(t, entry.EntryUUID(), got.EntryUUID())
	assert.Equal(t, []string{"dn:1:0:1:add", "dn:2:0:1:del"}, got.Values(models.AttrHistorical))
}

func testDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	entry := NewEntry("uid=dave,dc=example")
	require.NoError(t, s.PutEntry(ctx, entry, 0))

	assert.ErrorIs(t, s.DeleteEntry(ctx, entry.DN, 5), storage.ErrWriteConflict)
	require.NoError(t, s.DeleteEntry(ctx, entry.DN, entry.Version))

	_, err := s.GetEntry(ctx, entry.DN)
	assert.ErrorIs(t, err, storage.ErrEntryNotFound)
	assert.ErrorIs(t, s.DeleteEntry(ctx, entry.DN, 1), storage.ErrEntryNotFound)

	// DN снова свободен
	require.NoError(t, s.PutEntry(ctx, NewEntry(entry.DN), 0))
}

func testScan(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i := range 7 {
		require.NoError(t, s.PutEntry(ctx, NewEntry(fmt.Sprintf("uid=user%d,dc=example", i)), 0))
	}

	var keys []string
	after := ""
	for {
		page, err := s.ScanEntries(ctx, after, 3)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 3)
		for _, e := range page {
			keys = append(keys, e.Key())
		}
		after = page[len(page)-1].Key()
	}

	require.Len(t, keys, 7)
	for i := range keys {
		assert.Equal(t, fmt.Sprintf("uid=user%d,dc=example", i), keys[i])
	}
}

func withHistory(e *models.Entry, records ...string) *models.Entry {
	e.SetValues(models.AttrHistorical, records)
	return e
}

// changedKeys читает индекс изменений страницами по одной записи
func changedKeys(t *testing.T, s storage.Storage, since crdt.ChangeNumber) []string {
	t.Helper()
	var keys []string
	after := ""
	for {
		page, err := s.ScanChangedSince(context.Background(), since, after, 1)
		require.NoError(t, err)
		if len(page) == 0 {
			return keys
		}
		require.Len(t, page, 1)
		keys = append(keys, page[0].Key())
		after = page[0].Key()
	}
}

func testChangedSince(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	since := crdt.NewChangeNumber(15, 0, 1)

	a := withHistory(NewEntry("uid=a,dc=example"), "dn:10:0:1:add")
	b := withHistory(NewEntry("uid=b,dc=example"), "dn:20:0:1:add", "mail:30:0:2:add:x")
	c := NewEntry("uid=c,dc=example")
	d := withHistory(NewEntry("uid=d,dc=example"), "dn:5:0:1:add", "mail:15:0:1:add:y")
	e := withHistory(NewEntry("uid=e,dc=example"), "dn:15:0:2:add")
	for _, entry := range []*models.Entry{a, b, c, d, e} {
		require.NoError(t, s.PutEntry(ctx, entry, 0))
	}

	assert.Equal(t, []string{"uid=b,dc=example", "uid=e,dc=example"}, changedKeys(t, s, since))
	assert.Equal(t, []string{"uid=a,dc=example", "uid=b,dc=example", "uid=d,dc=example", "uid=e,dc=example"},
		changedKeys(t, s, crdt.ChangeNumber{}))

	// запись переезжает в индексе при обновлении
	withHistory(a, "dn:10:0:1:add", "cn:40:0:1:add:A")
	require.NoError(t, s.PutEntry(ctx, a, a.Version))
	require.NoError(t, s.DeleteEntry(ctx, b.DN, b.Version))
	require.NoError(t, s.Import(ctx, []*models.Entry{withHistory(NewEntry(d.DN), "dn:50:0:3:add")}))

	assert.Equal(t, []string{"uid=a,dc=example", "uid=d,dc=example", "uid=e,dc=example"}, changedKeys(t, s, since))
	assert.Equal(t, []string{"uid=d,dc=example"}, changedKeys(t, s, crdt.NewChangeNumber(40, 0, 1)))
	assert.Empty(t, changedKeys(t, s, crdt.NewChangeNumber(50, 0, 3)))
}

func testImport(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	existing := NewEntry("uid=erin,dc=example", "Erin")
	require.NoError(t, s.PutEntry(ctx, existing, 0))

	replacement := NewEntry("uid=erin,dc=example", "Erin Imported")
	fresh := NewEntry("uid=frank,dc=example", "Frank")
	require.NoError(t, s.Import(ctx, []*models.Entry{replacement, fresh}))

	got, err := s.GetEntry(ctx, existing.DN)
	require.NoError(t, err)
	assert.Equal(t, []string{"Erin Imported"}, got.Values("cn"))
	assert.Equal(t, replacement.EntryUUID(), got.EntryUUID())
	assert.Equal(t, int64(2), got.Version)

	got, err = s.GetEntry(ctx, fresh.DN)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func testPeerCursor(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	cn, err := s.GetPeerCursor(ctx, "replica-2")
	require.NoError(t, err)
	assert.True(t, cn.IsZero())

	want := crdt.NewChangeNumber(1700000000000, 4, 2)
	require.NoError(t, s.SetPeerCursor(ctx, "replica-2", want))
	require.NoError(t, s.SetPeerCursor(ctx, "replica-3", crdt.NewChangeNumber(1, 0, 3)))

	cn, err = s.GetPeerCursor(ctx, "replica-2")
	require.NoError(t, err)
	assert.Equal(t, want, cn)

	next := crdt.NewChangeNumber(1700000000001, 0, 2)
	require.NoError(t, s.SetPeerCursor(ctx, "replica-2", next))
	cn, err = s.GetPeerCursor(ctx, "replica-2")
	require.NoError(t, err)
	assert.Equal(t, next, cn)
}

func testClosed(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := s.GetEntry(ctx, "uid=x,dc=example")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, s.PutEntry(ctx, NewEntry("uid=x,dc=example"), 0), storage.ErrStorageClosed)
	_, err = s.GetPeerCursor(ctx, "replica-2")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = s.ScanChangedSince(ctx, crdt.ChangeNumber{}, "", 10)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

// Close во время чтения не должен приводить к гонке или панике: читатели
// получают либо данные, либо ошибку.
func testCloseWhileReading(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	entry := NewEntry("uid=x,dc=example", "X")
	require.NoError(t, s.PutEntry(ctx, entry, 0))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := s.GetEntry(ctx, entry.DN); err != nil {
					return
				}
				if _, err := s.ScanEntries(ctx, "", 10); err != nil {
					return
				}
			}
		}()
	}

	require.NoError(t, s.Close())
	wg.Wait()

	_, err := s.GetEntry(ctx, entry.DN)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
