package historical

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
)

// ErrUnsupportedOperation is returned when Resolve receives anything but a modify.
var ErrUnsupportedOperation = errors.New("resolver only handles modify operations")

// Decision is the fate of one sub-modification.
type Decision int

const (
	// DecisionApplied means the modification is kept as sent (possibly a no-op locally).
	DecisionApplied Decision = iota
	// DecisionPartial means some values lost to newer operations.
	DecisionPartial
	// DecisionSuppressed means the modification lost entirely.
	DecisionSuppressed
	// DecisionRewritten means the modification wins but had to change shape,
	// e.g. a delete-all that spares values added later.
	DecisionRewritten
)

func (d Decision) String() string {
	switch d {
	case DecisionApplied:
		return "applied"
	case DecisionPartial:
		return "partial"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionRewritten:
		return "rewritten"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Result is the outcome of resolving one replicated operation.
type Result struct {
	// Historical is the new history to persist together with Mods.
	Historical Historical
	// Mods are the adjusted modifications to apply to the entry.
	Mods []models.Modification
	// Decisions has one element per incoming sub-modification.
	Decisions []Decision
	// SuppressedValues counts values dropped because they lost a conflict.
	SuppressedValues int
	// HistoryChanged is false when the operation was an exact replay.
	HistoryChanged bool
}

// Resolver adjudicates replicated modifications against entry history.
// It keeps no state between calls.
type Resolver struct {
	schema *models.Schema
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil schema treats every attribute as
// multi-valued.
func NewResolver(schema *models.Schema, logger *slog.Logger) *Resolver {
	return &Resolver{
		schema: schema,
		logger: logger,
	}
}

// Resolve decides which parts of msg survive against the history h of
// entry. Neither h nor entry is modified: the caller applies Result.Mods to
// the entry and stores Result.Historical in the same write.
func (r *Resolver) Resolve(h Historical, entry *models.Entry, msg *models.UpdateMsg) (Result, error) {
	if msg.Kind != models.OpModify {
		return Result{}, fmt.Errorf("%w: got %s", ErrUnsupportedOperation, msg.Kind)
	}
	if err := MatchEntryUUID(entry, msg.EntryUUID); err != nil {
		return Result{}, err
	}

	s := &resolution{
		base:    h,
		cn:      msg.CN,
		working: entry.Clone(),
		attrs:   make(map[string]*AttrHistorical),
	}

	decisions := make([]Decision, len(msg.Mods))
	for i, mod := range msg.Mods {
		decisions[i] = r.resolveOne(s, mod)
		if decisions[i] == DecisionSuppressed || decisions[i] == DecisionPartial {
			r.logger.Debug("Modification lost conflict",
				"dn", msg.TargetDN,
				"cn", msg.CN.String(),
				"attribute", mod.Attribute,
				"type", mod.Type.String(),
				"decision", decisions[i].String(),
			)
		}
	}

	next, changed := s.commit()
	return Result{
		Historical:       next,
		Mods:             s.netMods(entry),
		Decisions:        decisions,
		SuppressedValues: s.suppressed,
		HistoryChanged:   changed,
	}, nil
}

func (r *Resolver) resolveOne(s *resolution, mod models.Modification) Decision {
	attr := models.NormalizeAttr(mod.Attribute)
	if models.IsOperational(attr) {
		return DecisionSuppressed
	}

	wasCounter := s.attr(attr).counter()
	decision := r.resolveMod(s, attr, mod)
	s.settle(attr, wasCounter)
	return decision
}

func (r *Resolver) resolveMod(s *resolution, attr string, mod models.Modification) Decision {
	switch mod.Type {
	case models.ModAdd:
		if r.schema.IsSingleValued(attr) {
			// single-valued add orders like a replace
			return s.replace(attr, mod.Values, true)
		}
		return s.addValues(attr, mod.Values)
	case models.ModDelete:
		if len(mod.Values) == 0 {
			return s.deleteAttr(attr)
		}
		return s.deleteValues(attr, mod.Values)
	case models.ModReplace:
		return s.replace(attr, mod.Values, false)
	case models.ModIncrement:
		return s.increment(attr, mod)
	default:
		return DecisionSuppressed
	}
}

// resolution is the scratch state of one Resolve call. Attribute histories
// are copied on first touch; the base history is never written.
type resolution struct {
	base       Historical
	working    *models.Entry
	attrs      map[string]*AttrHistorical
	mods       []models.Modification
	suppressed int
	cn         crdt.ChangeNumber
}

func (s *resolution) attr(name string) *AttrHistorical {
	if a, ok := s.attrs[name]; ok {
		return a
	}
	var a AttrHistorical
	if existing, ok := s.base.attrs[name]; ok {
		a = existing.clone()
	} else {
		a = newAttrHistorical()
	}
	s.attrs[name] = &a
	return &a
}

// emit appends mod to the output and applies it to the working copy so that
// later sub-modifications see its effect.
func (s *resolution) emit(mod models.Modification) error {
	if err := s.working.Apply([]models.Modification{mod}); err != nil {
		return err
	}
	s.mods = append(s.mods, mod)
	return nil
}

func (s *resolution) addValues(attr string, values []string) Decision {
	a := s.attr(attr)
	values = unique(values)
	if a.deleteCN.Newer(s.cn) {
		s.suppressed += len(values)
		return DecisionSuppressed
	}

	var emitted []string
	dropped := 0
	for _, v := range values {
		if a.supersedes(v, s.cn) {
			dropped++
			continue
		}
		a.setValue(v, ValueState{CN: s.cn})
		if !s.working.HasValue(attr, v) {
			emitted = append(emitted, v)
		}
	}
	s.suppressed += dropped

	if len(emitted) > 0 {
		// add of absent values cannot fail
		_ = s.emit(models.Modification{Type: models.ModAdd, Attribute: attr, Values: emitted})
	}
	return partialDecision(dropped, len(values))
}

func (s *resolution) deleteValues(attr string, values []string) Decision {
	a := s.attr(attr)
	values = unique(values)
	if a.deleteCN.Newer(s.cn) {
		s.suppressed += len(values)
		return DecisionSuppressed
	}

	var emitted []string
	dropped := 0
	for _, v := range values {
		if a.supersedes(v, s.cn) {
			dropped++
			continue
		}
		a.setValue(v, ValueState{CN: s.cn, Deleted: true})
		if s.working.HasValue(attr, v) {
			emitted = append(emitted, v)
		}
	}
	s.suppressed += dropped

	if len(emitted) > 0 {
		_ = s.emit(models.Modification{Type: models.ModDelete, Attribute: attr, Values: emitted})
	}
	return partialDecision(dropped, len(values))
}

func (s *resolution) deleteAttr(attr string) Decision {
	a := s.attr(attr)
	if a.deleteCN.Newer(s.cn) {
		return DecisionSuppressed
	}
	a.clearAt(s.cn)

	current := s.working.Values(attr)
	var remove []string
	for _, v := range current {
		if !a.protects(v, s.cn) {
			remove = append(remove, v)
		}
	}
	protected := len(current) - len(remove)

	switch {
	case len(remove) == 0:
	case protected == 0:
		_ = s.emit(models.Modification{Type: models.ModDelete, Attribute: attr})
	default:
		// values added after the delete survive it
		_ = s.emit(models.Modification{Type: models.ModDelete, Attribute: attr, Values: remove})
	}

	if protected > 0 {
		return DecisionRewritten
	}
	return DecisionApplied
}

// replace is a delete-all followed by an add of values, both at s.cn.
func (s *resolution) replace(attr string, values []string, singleValued bool) Decision {
	a := s.attr(attr)
	values = unique(values)
	if a.deleteCN.Newer(s.cn) {
		s.suppressed += len(values)
		return DecisionSuppressed
	}
	a.clearAt(s.cn)

	current := s.working.Values(attr)
	final := make([]string, 0, len(current)+len(values))
	for _, v := range current {
		if a.protects(v, s.cn) {
			final = append(final, v)
		}
	}
	protected := len(final)

	dropped := 0
	for _, v := range values {
		if a.supersedes(v, s.cn) {
			dropped++
			continue
		}
		a.setValue(v, ValueState{CN: s.cn})
		if !slices.Contains(final, v) {
			final = append(final, v)
		}
	}
	s.suppressed += dropped

	if !sameValues(final, current) {
		_ = s.emit(models.Modification{Type: models.ModReplace, Attribute: attr, Values: final})
	}

	switch {
	case dropped > 0:
		return DecisionPartial
	case protected > 0 || singleValued:
		return DecisionRewritten
	default:
		return DecisionApplied
	}
}

// increment loses only to a newer delete-all or replace. It leaves no
// value register: the delta is remembered at s.cn, which also makes a
// replay detectable.
func (s *resolution) increment(attr string, mod models.Modification) Decision {
	a := s.attr(attr)
	if a.deleteCN.Newer(s.cn) {
		return DecisionSuppressed
	}
	if base, ok := s.base.attrs[attr]; ok {
		if _, seen := base.incs[s.cn]; seen {
			return DecisionSuppressed
		}
	}

	delta, err := incrementDelta(mod)
	if err != nil {
		return DecisionSuppressed
	}
	if !a.counter() {
		a.anchor(s.working.Values(attr))
	}
	a.addIncrement(s.cn, delta)
	return DecisionApplied
}

// settle rewrites a counter attribute to the values its history derives.
func (s *resolution) settle(attr string, wasCounter bool) {
	a := s.attr(attr)
	if !wasCounter && !a.counter() {
		return
	}
	final := a.counterValues()
	if sameValues(final, s.working.Values(attr)) {
		return
	}
	_ = s.emit(models.Modification{Type: models.ModReplace, Attribute: attr, Values: final})
}

func incrementDelta(mod models.Modification) (int64, error) {
	if len(mod.Values) != 1 {
		return 0, fmt.Errorf("%w: increment needs exactly one delta", models.ErrInvalidIncrement)
	}
	delta, err := strconv.ParseInt(mod.Values[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: delta %q", models.ErrInvalidIncrement, mod.Values[0])
	}
	return delta, nil
}

// netMods drops the modifications of attributes that end up with the
// values they started with, so an exact replay emits nothing.
func (s *resolution) netMods(entry *models.Entry) []models.Modification {
	var out []models.Modification
	for _, mod := range s.mods {
		if !sameValues(entry.Values(mod.Attribute), s.working.Values(mod.Attribute)) {
			out = append(out, mod)
		}
	}
	return out
}

// commit builds the new history and reports whether it differs from the base.
func (s *resolution) commit() (Historical, bool) {
	next := s.base.clone()
	changed := false
	for name, a := range s.attrs {
		before, existed := s.base.attrs[name]
		if a.IsEmpty() {
			if existed {
				delete(next.attrs, name)
				changed = true
			}
			continue
		}
		if !existed || !before.equal(*a) {
			changed = true
		}
		next.attrs[name] = *a
	}
	return next, changed
}

func partialDecision(dropped, total int) Decision {
	switch {
	case dropped == 0:
		return DecisionApplied
	case dropped == total:
		return DecisionSuppressed
	default:
		return DecisionPartial
	}
}

func unique(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, v := range a {
		if !slices.Contains(b, v) {
			return false
		}
	}
	return true
}
