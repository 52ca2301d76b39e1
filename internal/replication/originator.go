package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
)

var (
	// ErrEntryExists is returned when a local add targets a live entry.
	ErrEntryExists = errors.New("entry already exists")
	// ErrChangeSuperseded is returned when every part of a local change
	// lost to a newer change already stored.
	ErrChangeSuperseded = errors.New("change superseded by a newer change")
)

// Publisher fans an accepted local change out to peers.
type Publisher interface {
	Publish(ctx context.Context, msg *models.UpdateMsg)
}

// Originator turns local changes into replication messages. Every change
// gets a fresh change number from the replica clock and goes through the
// same replay path as remote operations.
type Originator struct {
	store     storage.Reader
	submitter Submitter
	publisher Publisher
	clock     *crdt.Clock
	logger    *slog.Logger
}

// NewOriginator creates an Originator. publisher may be nil.
func NewOriginator(store storage.Reader, submitter Submitter, clock *crdt.Clock, publisher Publisher, logger *slog.Logger) *Originator {
	return &Originator{
		store:     store,
		submitter: submitter,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// Add creates a new entry.
func (o *Originator) Add(ctx context.Context, dn string, attrs map[string][]string) (*models.UpdateMsg, error) {
	existing, err := o.store.GetEntry(ctx, dn)
	switch {
	case err == nil && !existing.Deleted:
		return nil, fmt.Errorf("%w: %s", ErrEntryExists, dn)
	case err != nil && !errors.Is(err, storage.ErrEntryNotFound):
		return nil, err
	}

	msg := &models.UpdateMsg{
		Kind:       models.OpAdd,
		TargetDN:   dn,
		EntryUUID:  uuid.New().String(),
		Attributes: attrs,
		CN:         o.clock.Next(),
	}
	return o.originate(ctx, msg)
}

// Modify applies mods to an existing entry.
func (o *Originator) Modify(ctx context.Context, dn string, mods []models.Modification) (*models.UpdateMsg, error) {
	entry, err := o.liveEntry(ctx, dn)
	if err != nil {
		return nil, err
	}

	msg := &models.UpdateMsg{
		Kind:      models.OpModify,
		TargetDN:  entry.DN,
		EntryUUID: entry.EntryUUID(),
		Mods:      models.CloneModifications(mods),
		CN:        o.clock.Next(),
	}
	return o.originate(ctx, msg)
}

// Delete removes an existing entry, leaving a tombstone.
func (o *Originator) Delete(ctx context.Context, dn string) (*models.UpdateMsg, error) {
	entry, err := o.liveEntry(ctx, dn)
	if err != nil {
		return nil, err
	}

	msg := &models.UpdateMsg{
		Kind:      models.OpDelete,
		TargetDN:  entry.DN,
		EntryUUID: entry.EntryUUID(),
		CN:        o.clock.Next(),
	}
	return o.originate(ctx, msg)
}

func (o *Originator) liveEntry(ctx context.Context, dn string) (*models.Entry, error) {
	entry, err := o.store.GetEntry(ctx, dn)
	if err != nil {
		return nil, err
	}
	if entry.Deleted {
		return nil, fmt.Errorf("%w: %s", storage.ErrEntryNotFound, dn)
	}
	return entry, nil
}

func (o *Originator) originate(ctx context.Context, msg *models.UpdateMsg) (*models.UpdateMsg, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	outcome, err := o.submitter.Submit(ctx, msg)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Local change accepted", "msg", msg.String(), "outcome", outcome)

	switch outcome {
	case OutcomeNamingConflict:
		return nil, fmt.Errorf("%w: %s", ErrEntryExists, msg.TargetDN)
	case OutcomeMissingEntry, OutcomeUUIDMismatch:
		// запись удалена или заменена между чтением и применением
		return nil, fmt.Errorf("%w: %s", storage.ErrEntryNotFound, msg.TargetDN)
	case OutcomeSuppressed:
		// локальные часы отстали от сохраненной истории, такое изменение не публикуем
		o.logger.Warn("Local change superseded", "msg", msg.String(), "clock", o.clock.Last().String())
		return nil, fmt.Errorf("%w: %s", ErrChangeSuperseded, msg.TargetDN)
	}

	if o.publisher != nil {
		o.publisher.Publish(ctx, msg)
	}
	return msg, nil
}
