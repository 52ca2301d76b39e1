// Package historical keeps per-entry conflict history and resolves
// replicated modifications against it.
package historical

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
)

// ErrEntryUUIDMismatch is returned when an operation targets a different
// logical entry than the one currently stored under its DN.
var ErrEntryUUIDMismatch = errors.New("entry uuid mismatch")

// Historical is the conflict history of one entry. It is an immutable
// value: operations that change it return a new Historical.
type Historical struct {
	attrs     map[string]AttrHistorical
	entryCN   crdt.ChangeNumber
	deletedCN crdt.ChangeNumber
}

// New returns an empty history.
func New() Historical {
	return Historical{attrs: make(map[string]AttrHistorical)}
}

// Attr returns the history of one attribute type.
func (h Historical) Attr(attr string) (AttrHistorical, bool) {
	a, ok := h.attrs[models.NormalizeAttr(attr)]
	return a, ok
}

// AttributeNames returns the attribute types with history, sorted.
func (h Historical) AttributeNames() []string {
	return slices.Sorted(maps.Keys(h.attrs))
}

// EntryCN returns the change number of the entry creation, zero if unknown.
func (h Historical) EntryCN() crdt.ChangeNumber {
	return h.entryCN
}

// WithEntryAdded returns a copy of h that remembers the entry creation at cn.
func (h Historical) WithEntryAdded(cn crdt.ChangeNumber) Historical {
	out := h.clone()
	out.entryCN = crdt.Max(out.entryCN, cn)
	return out
}

// DeletedCN returns the change number of the entry deletion, zero while
// the entry is alive.
func (h Historical) DeletedCN() crdt.ChangeNumber {
	return h.deletedCN
}

// WithEntryDeleted returns a copy of h that remembers the entry deletion at cn.
func (h Historical) WithEntryDeleted(cn crdt.ChangeNumber) Historical {
	out := h.clone()
	out.deletedCN = crdt.Max(out.deletedCN, cn)
	return out
}

// Newest returns the newest change number recorded anywhere in h.
func (h Historical) Newest() crdt.ChangeNumber {
	newest := crdt.Max(h.entryCN, h.deletedCN)
	for _, a := range h.attrs {
		newest = crdt.Max(newest, a.newest())
	}
	return newest
}

// Equal reports whether both histories hold the same records.
func (h Historical) Equal(other Historical) bool {
	if h.entryCN != other.entryCN || h.deletedCN != other.deletedCN || len(h.attrs) != len(other.attrs) {
		return false
	}
	for name, a := range h.attrs {
		b, ok := other.attrs[name]
		if !ok || !a.equal(b) {
			return false
		}
	}
	return true
}

// Records returns every record of h sorted by change number, then by
// encoded text.
func (h Historical) Records() []Record {
	var out []Record
	if !h.entryCN.IsZero() {
		out = append(out, Record{Attribute: entryAttr, CN: h.entryCN, Op: OpAdd})
	}
	if !h.deletedCN.IsZero() {
		out = append(out, Record{Attribute: entryAttr, CN: h.deletedCN, Op: OpDel})
	}
	for _, name := range h.AttributeNames() {
		out = append(out, h.attrs[name].records(name)...)
	}
	slices.SortStableFunc(out, compareRecords)
	return out
}

// Len returns the number of records h encodes to.
func (h Historical) Len() int {
	return len(h.Records())
}

// Encode serializes h into the values of the historical attribute.
func (h Historical) Encode() []string {
	records := h.Records()
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.String()
	}
	return out
}

// PurgeBefore returns a copy of h without delete records older than
// horizon. A zero horizon keeps everything.
func (h Historical) PurgeBefore(horizon crdt.ChangeNumber) Historical {
	if horizon.IsZero() {
		return h
	}
	out := Historical{attrs: make(map[string]AttrHistorical, len(h.attrs)), entryCN: h.entryCN, deletedCN: h.deletedCN}
	for name, a := range h.attrs {
		purged := a.purgeBefore(horizon)
		if !purged.IsEmpty() {
			out.attrs[name] = purged
		}
	}
	return out
}

func (h Historical) clone() Historical {
	out := Historical{attrs: maps.Clone(h.attrs), entryCN: h.entryCN, deletedCN: h.deletedCN}
	if out.attrs == nil {
		out.attrs = make(map[string]AttrHistorical)
	}
	return out
}

func compareRecords(a, b Record) int {
	if c := crdt.Compare(a.CN, b.CN); c != 0 {
		return c
	}
	return strings.Compare(a.String(), b.String())
}

// Decode parses the values of the historical attribute. Records that
// cannot be parsed are skipped and returned as errors; decoding never fails.
func Decode(values []string) (Historical, []error) {
	h := New()
	var errs []error

	attrs := make(map[string]*AttrHistorical)
	get := func(name string) *AttrHistorical {
		a, ok := attrs[name]
		if !ok {
			fresh := newAttrHistorical()
			a = &fresh
			attrs[name] = a
		}
		return a
	}

	for _, raw := range values {
		rec, err := ParseRecord(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if rec.Attribute == entryAttr {
			switch {
			case rec.HasValue:
				errs = append(errs, fmt.Errorf("%w: %q is not an entry record", ErrMalformedRecord, raw))
			case rec.Op == OpAdd:
				h.entryCN = crdt.Max(h.entryCN, rec.CN)
			case rec.Op == OpDel:
				h.deletedCN = crdt.Max(h.deletedCN, rec.CN)
			default:
				errs = append(errs, fmt.Errorf("%w: %q is not an entry record", ErrMalformedRecord, raw))
			}
			continue
		}

		a := get(rec.Attribute)
		switch rec.Op {
		case OpAttrDel:
			a.mergeDelete(rec.CN)
		case OpRepl:
			a.mergeDelete(rec.CN)
			if rec.HasValue {
				a.mergeValue(rec.Value, ValueState{CN: rec.CN})
			}
		case OpAdd:
			if !rec.HasValue {
				errs = append(errs, fmt.Errorf("%w: %q adds no value", ErrMalformedRecord, raw))
				continue
			}
			a.mergeValue(rec.Value, ValueState{CN: rec.CN})
		case OpDel:
			// del without a value is a delete of the whole attribute
			if !rec.HasValue {
				a.mergeDelete(rec.CN)
				continue
			}
			a.mergeValue(rec.Value, ValueState{CN: rec.CN, Deleted: true})
		case OpInc:
			delta, err := strconv.ParseInt(rec.Value, 10, 64)
			if !rec.HasValue || err != nil || rec.CN.IsZero() {
				errs = append(errs, fmt.Errorf("%w: %q has no valid delta", ErrMalformedRecord, raw))
				continue
			}
			a.incs[rec.CN] = delta
		}
	}

	for name, a := range attrs {
		a.compact()
		if !a.IsEmpty() {
			h.attrs[name] = *a
		}
	}
	return h, errs
}

// GetEntryUUID returns the stable identifier of the entry.
func GetEntryUUID(entry *models.Entry) string {
	return entry.EntryUUID()
}

// MatchEntryUUID checks that an operation addressed to id targets entry.
func MatchEntryUUID(entry *models.Entry, id string) error {
	current := GetEntryUUID(entry)
	if current == "" || !strings.EqualFold(current, id) {
		return fmt.Errorf("%w: entry %q has %q, operation targets %q", ErrEntryUUIDMismatch, entry.DN, current, id)
	}
	return nil
}

// Codec loads and stores the history kept in an entry's operational
// attribute and applies the retention horizon.
type Codec struct {
	logger     *slog.Logger
	now        func() time.Time
	purgeDelay time.Duration
}

// NewCodec creates a codec. Delete records older than purgeDelay are
// dropped on save; zero keeps them forever.
func NewCodec(logger *slog.Logger, purgeDelay time.Duration) *Codec {
	return &Codec{
		logger:     logger,
		now:        time.Now,
		purgeDelay: purgeDelay,
	}
}

// Load parses the history of entry, skipping malformed records.
func (c *Codec) Load(entry *models.Entry) Historical {
	h, errs := Decode(entry.Values(models.AttrHistorical))
	for _, err := range errs {
		c.logger.Warn("Skipping malformed historical record",
			"dn", entry.DN,
			"error", err,
		)
	}
	return h
}

// Encode serializes h after applying the retention horizon.
func (c *Codec) Encode(h Historical) []string {
	return h.PurgeBefore(c.horizon()).Encode()
}

// Save writes h into entry's historical attribute.
func (c *Codec) Save(entry *models.Entry, h Historical) {
	entry.SetValues(models.AttrHistorical, c.Encode(h))
}

// FakeOperations regenerates the operations recorded in entry's history.
func (c *Codec) FakeOperations(entry *models.Entry) iter.Seq[*FakeOperation] {
	return GenerateFakeOperations(entry, c.Load(entry))
}

func (c *Codec) horizon() crdt.ChangeNumber {
	if c.purgeDelay <= 0 {
		return crdt.ChangeNumber{}
	}
	ts := c.now().Add(-c.purgeDelay).UnixMilli()
	if ts <= 0 {
		return crdt.ChangeNumber{}
	}
	return crdt.NewChangeNumber(uint64(ts), 0, 0)
}
