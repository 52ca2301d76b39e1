package historical

import (
	"maps"
	"slices"
	"strconv"

	"github.com/iudanet/dirsync/internal/crdt"
)

// ValueState is the last-writer register of one attribute value: the
// change number of the newest add or delete of that exact value.
type ValueState struct {
	CN      crdt.ChangeNumber
	Deleted bool
}

// newerThan reports whether s wins over other. At an equal change number
// a delete wins so that decoding does not depend on record order.
func (s ValueState) newerThan(other ValueState) bool {
	switch crdt.Compare(s.CN, other.CN) {
	case 1:
		return true
	case 0:
		return s.Deleted && !other.Deleted
	}
	return false
}

// AttrHistorical is the history of one attribute type: the newest
// whole-attribute delete or replace, one register per value and the
// increments applied since that delete.
//
// Once an attribute has increments its values are derived from the
// history: every live register is a base value shifted by the increments
// not older than it. A register with a zero change number is a base value
// that was present before the first increment.
//
// Values are immutable from outside the package; the resolver works on
// private copies.
type AttrHistorical struct {
	values   map[string]ValueState
	incs     map[crdt.ChangeNumber]int64
	deleteCN crdt.ChangeNumber
}

func newAttrHistorical() AttrHistorical {
	return AttrHistorical{
		values: make(map[string]ValueState),
		incs:   make(map[crdt.ChangeNumber]int64),
	}
}

// DeleteCN returns the change number of the newest delete-all or replace of
// the attribute, zero when there is none.
func (a AttrHistorical) DeleteCN() crdt.ChangeNumber {
	return a.deleteCN
}

// Value returns the register of one value.
func (a AttrHistorical) Value(v string) (ValueState, bool) {
	st, ok := a.values[v]
	return st, ok
}

// Values returns the values that have a register, sorted.
func (a AttrHistorical) Values() []string {
	return slices.Sorted(maps.Keys(a.values))
}

// Increment returns the summed delta applied at cn.
func (a AttrHistorical) Increment(cn crdt.ChangeNumber) (int64, bool) {
	d, ok := a.incs[cn]
	return d, ok
}

// Increments returns the change numbers of the remembered increments in
// ascending order.
func (a AttrHistorical) Increments() []crdt.ChangeNumber {
	return slices.SortedFunc(maps.Keys(a.incs), crdt.Compare)
}

// IsEmpty reports whether the attribute carries no record at all.
func (a AttrHistorical) IsEmpty() bool {
	return a.deleteCN.IsZero() && len(a.values) == 0 && len(a.incs) == 0
}

// counter reports whether values of the attribute are derived from increments.
func (a AttrHistorical) counter() bool {
	return len(a.incs) > 0
}

// newest returns the newest change number recorded for the attribute.
func (a AttrHistorical) newest() crdt.ChangeNumber {
	newest := a.deleteCN
	for _, st := range a.values {
		newest = crdt.Max(newest, st.CN)
	}
	for cn := range a.incs {
		newest = crdt.Max(newest, cn)
	}
	return newest
}

// counterValues derives the current values of a counter attribute. An
// increment shifts every numeric base value registered at or before its
// change number. A derived value is dropped when that exact value was
// deleted after the last increment that produced it.
func (a AttrHistorical) counterValues() []string {
	incs := a.Increments()
	out := make([]string, 0, len(a.values))
	for _, v := range a.Values() {
		st := a.values[v]
		if st.Deleted {
			continue
		}

		value, effective := v, st.CN
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			for _, cn := range incs {
				if !cn.Older(st.CN) {
					n += a.incs[cn]
					effective = cn
				}
			}
			value = strconv.FormatInt(n, 10)
		}

		if other, ok := a.values[value]; ok && other.Deleted && other.CN.Newer(effective) {
			continue
		}
		if !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}

// baseValues returns the values present before the first increment.
func (a AttrHistorical) baseValues() []string {
	var out []string
	for _, v := range a.Values() {
		st := a.values[v]
		if !st.Deleted && st.CN.IsZero() {
			out = append(out, v)
		}
	}
	return out
}

// protects reports whether v was added after cn and therefore survives
// a delete-all or replace issued at cn.
func (a AttrHistorical) protects(v string, cn crdt.ChangeNumber) bool {
	st, ok := a.values[v]
	return ok && !st.Deleted && st.CN.Newer(cn)
}

// supersedes reports whether an operation at cn on v has already lost:
// either the whole attribute or the value itself was touched later.
func (a AttrHistorical) supersedes(v string, cn crdt.ChangeNumber) bool {
	if a.deleteCN.Newer(cn) {
		return true
	}
	st, ok := a.values[v]
	return ok && st.CN.Newer(cn)
}

func (a AttrHistorical) clone() AttrHistorical {
	out := AttrHistorical{
		values:   maps.Clone(a.values),
		incs:     maps.Clone(a.incs),
		deleteCN: a.deleteCN,
	}
	if out.values == nil {
		out.values = make(map[string]ValueState)
	}
	if out.incs == nil {
		out.incs = make(map[crdt.ChangeNumber]int64)
	}
	return out
}

func (a AttrHistorical) equal(other AttrHistorical) bool {
	return a.deleteCN == other.deleteCN &&
		maps.Equal(a.values, other.values) &&
		maps.Equal(a.incs, other.incs)
}

// setValue overwrites the register of v.
func (a *AttrHistorical) setValue(v string, st ValueState) {
	a.values[v] = st
}

// mergeValue keeps the winning register of v.
func (a *AttrHistorical) mergeValue(v string, st ValueState) {
	if current, ok := a.values[v]; ok && !st.newerThan(current) {
		return
	}
	a.values[v] = st
}

// anchor registers the values that have no register yet as base values.
func (a *AttrHistorical) anchor(values []string) {
	for _, v := range values {
		if _, ok := a.values[v]; !ok {
			a.values[v] = ValueState{}
		}
	}
}

// addIncrement records delta at cn. Increments of one operation are summed.
func (a *AttrHistorical) addIncrement(cn crdt.ChangeNumber, delta int64) {
	a.incs[cn] += delta
}

// clearAt records a delete-all at cn. Registers not newer than cn and
// increments older than cn can no longer change any outcome and are
// dropped. An increment of the same operation always applies after its
// replace.
func (a *AttrHistorical) clearAt(cn crdt.ChangeNumber) {
	a.deleteCN = crdt.Max(a.deleteCN, cn)
	for v, st := range a.values {
		if !st.CN.Newer(cn) {
			delete(a.values, v)
		}
	}
	for inc := range a.incs {
		if inc.Older(cn) {
			delete(a.incs, inc)
		}
	}
}

// mergeDelete records a whole-attribute record while decoding. Registers
// written by the same replace share its change number and stay.
func (a *AttrHistorical) mergeDelete(cn crdt.ChangeNumber) {
	a.deleteCN = crdt.Max(a.deleteCN, cn)
}

// compact drops registers and increments strictly older than the
// whole-attribute record.
func (a *AttrHistorical) compact() {
	for v, st := range a.values {
		if st.CN.Older(a.deleteCN) {
			delete(a.values, v)
		}
	}
	for inc := range a.incs {
		if inc.Older(a.deleteCN) {
			delete(a.incs, inc)
		}
	}
}

// records encodes the attribute. The first value added by the newest
// replace is written as "repl"; a delete-all without such value as "attrDel".
func (a AttrHistorical) records(attr string) []Record {
	out := make([]Record, 0, len(a.values)+len(a.incs)+1)
	replWritten := false
	for _, v := range a.Values() {
		st := a.values[v]
		switch {
		case st.Deleted:
			out = append(out, valueRecord(attr, OpDel, st.CN, v))
		case !replWritten && !a.deleteCN.IsZero() && st.CN == a.deleteCN:
			out = append(out, valueRecord(attr, OpRepl, st.CN, v))
			replWritten = true
		default:
			out = append(out, valueRecord(attr, OpAdd, st.CN, v))
		}
	}
	if !a.deleteCN.IsZero() && !replWritten {
		out = append(out, Record{Attribute: attr, CN: a.deleteCN, Op: OpAttrDel})
	}
	for _, cn := range a.Increments() {
		out = append(out, valueRecord(attr, OpInc, cn, strconv.FormatInt(a.incs[cn], 10)))
	}
	return out
}

// purgeBefore drops delete records older than horizon. Value deletes of a
// counter attribute are kept: derived values depend on them.
func (a AttrHistorical) purgeBefore(horizon crdt.ChangeNumber) AttrHistorical {
	out := a.clone()
	if out.deleteCN.Older(horizon) {
		out.deleteCN = crdt.ChangeNumber{}
	}
	if out.counter() {
		return out
	}
	for v, st := range out.values {
		if st.Deleted && st.CN.Older(horizon) {
			delete(out.values, v)
		}
	}
	return out
}
