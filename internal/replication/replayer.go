// Package replication replays replicated operations against stored entries
// and feeds local changes and catch-up streams into the same path.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
)

// Outcome describes what a replay did to the stored entry.
type Outcome string

const (
	// OutcomeApplied means the whole operation won and was stored.
	OutcomeApplied Outcome = "applied"
	// OutcomePartial means part of the operation lost a conflict.
	OutcomePartial Outcome = "partial"
	// OutcomeSuppressed means the whole operation lost a conflict.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeReplayed means the operation was already applied.
	OutcomeReplayed Outcome = "replayed"
	// OutcomeUUIDMismatch means the DN now names another entry.
	OutcomeUUIDMismatch Outcome = "uuid_mismatch"
	// OutcomeNamingConflict means an add hit a live entry with another UUID.
	OutcomeNamingConflict Outcome = "naming_conflict"
	// OutcomeMissingEntry means the target entry does not exist.
	OutcomeMissingEntry Outcome = "missing_entry"
)

// ReplayerStore is the storage a Replayer needs.
type ReplayerStore interface {
	storage.Reader
	storage.Writer
}

// RetryPolicy bounds the retries of one replay after storage write conflicts.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

// DefaultRetryPolicy is used when a zero RetryPolicy is given.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, BaseDelay: 10 * time.Millisecond}

func (p RetryPolicy) backoff() retry.Backoff {
	if p.BaseDelay <= 0 {
		p = DefaultRetryPolicy
	}
	return retry.WithMaxRetries(p.MaxRetries, retry.NewExponential(p.BaseDelay))
}

// Replayer applies replicated operations to storage.
// It serializes nothing itself: callers must not replay two operations on
// the same entry concurrently (see Dispatcher), storage conflicts caused by
// other writers are retried.
type Replayer struct {
	store    ReplayerStore
	resolver *historical.Resolver
	codec    *historical.Codec
	clock    *crdt.Clock
	metrics  *Metrics
	logger   *slog.Logger
	policy   RetryPolicy
}

// NewReplayer creates a Replayer. clock may be nil; when set it observes
// every replayed change number so local changes sort after them.
func NewReplayer(
	store ReplayerStore,
	resolver *historical.Resolver,
	codec *historical.Codec,
	clock *crdt.Clock,
	metrics *Metrics,
	policy RetryPolicy,
	logger *slog.Logger,
) *Replayer {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Replayer{
		store:    store,
		resolver: resolver,
		codec:    codec,
		clock:    clock,
		metrics:  metrics,
		policy:   policy,
		logger:   logger,
	}
}

// Replay applies msg. A lost conflict is an outcome, not an error: errors
// are returned only for invalid messages, exhausted retries and storage failures.
func (r *Replayer) Replay(ctx context.Context, msg *models.UpdateMsg) (Outcome, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	start := time.Now()
	defer func() {
		r.metrics.ReplayDuration.WithLabelValues(string(msg.Kind)).Observe(time.Since(start).Seconds())
	}()

	var outcome Outcome
	attempt := 0
	err := retry.Do(ctx, r.policy.backoff(), func(ctx context.Context) error {
		if attempt > 0 {
			r.metrics.StorageRetries.Inc()
		}
		attempt++

		var err error
		outcome, err = r.replayOnce(ctx, msg)
		if errors.Is(err, storage.ErrWriteConflict) {
			r.logger.Warn("Storage write conflict, retrying replay",
				"dn", msg.TargetDN,
				"cn", msg.CN.String(),
				"attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("replay %s: %w", msg, err)
	}

	if r.clock != nil {
		r.clock.Update(msg.CN)
	}
	r.metrics.ReplayOutcomes.WithLabelValues(string(msg.Kind), string(outcome)).Inc()
	return outcome, nil
}

// replayOnce runs one attempt on fresh state: load, correlate, resolve,
// apply, encode and a single conditional write.
func (r *Replayer) replayOnce(ctx context.Context, msg *models.UpdateMsg) (Outcome, error) {
	entry, err := r.store.GetEntry(ctx, msg.TargetDN)
	if err != nil && !errors.Is(err, storage.ErrEntryNotFound) {
		return "", fmt.Errorf("failed to load entry: %w", err)
	}

	switch msg.Kind {
	case models.OpAdd:
		return r.replayAdd(ctx, entry, msg)
	case models.OpDelete:
		return r.replayDelete(ctx, entry, msg)
	default:
		return r.replayModify(ctx, entry, msg)
	}
}

func (r *Replayer) replayModify(ctx context.Context, entry *models.Entry, msg *models.UpdateMsg) (Outcome, error) {
	if entry == nil {
		r.logger.Warn("Dropping modification of missing entry", "dn", msg.TargetDN, "cn", msg.CN.String())
		return OutcomeMissingEntry, nil
	}
	if err := r.correlate(entry, msg); err != nil {
		return OutcomeUUIDMismatch, nil
	}
	if entry.Deleted {
		r.logger.Debug("Dropping modification of deleted entry", "dn", msg.TargetDN, "cn", msg.CN.String())
		return OutcomeSuppressed, nil
	}

	res, err := r.resolver.Resolve(r.codec.Load(entry), entry, msg)
	if err != nil {
		return "", err
	}
	r.metrics.SuppressedValues.Add(float64(res.SuppressedValues))

	outcome := outcomeOf(res)
	if !res.HistoryChanged && len(res.Mods) == 0 {
		if outcome == OutcomeApplied {
			outcome = OutcomeReplayed
		}
		return outcome, nil
	}

	updated := entry.Clone()
	if err := updated.Apply(res.Mods); err != nil {
		return "", err
	}
	r.codec.Save(updated, res.Historical)

	if err := r.store.PutEntry(ctx, updated, entry.Version); err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *Replayer) replayAdd(ctx context.Context, existing *models.Entry, msg *models.UpdateMsg) (Outcome, error) {
	var expected int64
	if existing != nil {
		switch {
		case historical.GetEntryUUID(existing) == msg.EntryUUID:
			return OutcomeReplayed, nil
		case !existing.Deleted:
			r.logger.Warn("Dropping add of an entry with conflicting name",
				"dn", msg.TargetDN,
				"entry_uuid", msg.EntryUUID,
				"existing_uuid", historical.GetEntryUUID(existing))
			return OutcomeNamingConflict, nil
		}
		// запись-надгробие другой записи освобождает DN
		expected = existing.Version
	}

	id, err := uuid.Parse(msg.EntryUUID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrInvalidUpdate, err)
	}

	entry := models.NewEntry(msg.TargetDN, id)
	for name, values := range msg.Attributes {
		if models.IsOperational(name) {
			continue
		}
		entry.SetValues(name, values)
	}
	r.codec.Save(entry, historical.New().WithEntryAdded(msg.CN))

	if err := r.store.PutEntry(ctx, entry, expected); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// replayDelete always wins over modifications: a deleted entry stays
// deleted whatever order the operations arrive in.
func (r *Replayer) replayDelete(ctx context.Context, entry *models.Entry, msg *models.UpdateMsg) (Outcome, error) {
	if entry == nil {
		return OutcomeMissingEntry, nil
	}
	if err := r.correlate(entry, msg); err != nil {
		return OutcomeUUIDMismatch, nil
	}
	if entry.Deleted {
		return OutcomeReplayed, nil
	}

	tomb := entry.Tombstone()
	r.codec.Save(tomb, r.codec.Load(entry).WithEntryDeleted(msg.CN))

	if err := r.store.PutEntry(ctx, tomb, entry.Version); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (r *Replayer) correlate(entry *models.Entry, msg *models.UpdateMsg) error {
	err := CorrelateEntry(entry, msg)
	if err != nil {
		r.metrics.UUIDMismatches.Inc()
		r.logger.Debug("Dropping operation for another entry",
			"dn", msg.TargetDN,
			"cn", msg.CN.String(),
			"entry_uuid", msg.EntryUUID,
			"stored_uuid", historical.GetEntryUUID(entry))
	}
	return err
}

func outcomeOf(res historical.Result) Outcome {
	lost := 0
	for _, d := range res.Decisions {
		switch d {
		case historical.DecisionSuppressed:
			lost++
		case historical.DecisionPartial:
			return OutcomePartial
		}
	}
	switch {
	case lost == 0:
		return OutcomeApplied
	case lost == len(res.Decisions):
		return OutcomeSuppressed
	default:
		return OutcomePartial
	}
}
