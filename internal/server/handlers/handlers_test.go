package handlers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/internal/storage"
)

const (
	testUUID = "11111111-2222-3333-4444-555555555555"
	testDN   = "uid=alice,ou=people,dc=example"
)

var errBackend = errors.New("backend unavailable")

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func withReplica(ctx context.Context, id uint16) context.Context {
	ctx = context.WithValue(ctx, ReplicaIDKey, id)
	return context.WithValue(ctx, ReplicaNameKey, "peer")
}

// fakeSubmitter возвращает заранее заданный результат по DN сообщения
type fakeSubmitter struct {
	outcomes map[string]replication.Outcome
	errs     map[string]error
	received []*models.UpdateMsg
	mu       sync.Mutex
}

func (s *fakeSubmitter) Submit(_ context.Context, msg *models.UpdateMsg) (replication.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	if err := s.errs[msg.TargetDN]; err != nil {
		return "", err
	}
	if outcome, ok := s.outcomes[msg.TargetDN]; ok {
		return outcome, nil
	}
	return replication.OutcomeApplied, nil
}

type fakeChangeSource struct {
	err     error
	changes []*models.UpdateMsg
	since   crdt.ChangeNumber
	limit   int
}

func (f *fakeChangeSource) ChangesSince(_ context.Context, since crdt.ChangeNumber, limit int) ([]*models.UpdateMsg, error) {
	f.since = since
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.changes, nil
}

type fakeOriginator struct {
	err   error
	calls []string
}

func (f *fakeOriginator) result(kind models.OperationKind, dn string) (*models.UpdateMsg, error) {
	f.calls = append(f.calls, string(kind)+" "+dn)
	if f.err != nil {
		return nil, f.err
	}
	return &models.UpdateMsg{
		Kind:      kind,
		TargetDN:  dn,
		EntryUUID: testUUID,
		CN:        crdt.NewChangeNumber(100, 0, 1),
	}, nil
}

func (f *fakeOriginator) Add(_ context.Context, dn string, _ map[string][]string) (*models.UpdateMsg, error) {
	return f.result(models.OpAdd, dn)
}

func (f *fakeOriginator) Modify(_ context.Context, dn string, _ []models.Modification) (*models.UpdateMsg, error) {
	return f.result(models.OpModify, dn)
}

func (f *fakeOriginator) Delete(_ context.Context, dn string) (*models.UpdateMsg, error) {
	return f.result(models.OpDelete, dn)
}

type fakeReader struct {
	entries map[string]*models.Entry
}

func (f *fakeReader) GetEntry(_ context.Context, dn string) (*models.Entry, error) {
	entry, ok := f.entries[models.NormalizeDN(dn)]
	if !ok {
		return nil, storage.ErrEntryNotFound
	}
	return entry.Clone(), nil
}

type staticDomains []string

func (d staticDomains) Domains() []string { return d }
