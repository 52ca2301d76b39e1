package historical

import (
	"iter"
	"maps"
	"slices"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
)

// FakeOperation is an operation reconstructed from entry history. All
// records sharing one change number come from one original operation and
// are folded into one FakeOperation.
type FakeOperation struct {
	Attributes map[string][]string
	EntryUUID  string
	TargetDN   string
	Kind       models.OperationKind
	Mods       []models.Modification
	CN         crdt.ChangeNumber
}

// Message regenerates the replication message of the operation.
func (op *FakeOperation) Message() *models.UpdateMsg {
	msg := &models.UpdateMsg{
		Kind:      op.Kind,
		CN:        op.CN,
		EntryUUID: op.EntryUUID,
		TargetDN:  op.TargetDN,
		Mods:      models.CloneModifications(op.Mods),
	}
	if op.Attributes != nil {
		msg.Attributes = make(map[string][]string, len(op.Attributes))
		for k, v := range op.Attributes {
			msg.Attributes[k] = append([]string(nil), v...)
		}
	}
	return msg
}

// CompareFakeOperations orders operations by change number. nil sorts
// before any operation.
func CompareFakeOperations(a, b *FakeOperation) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return crdt.Compare(a.CN, b.CN)
}

// GenerateFakeOperations yields the operations recorded in h for entry in
// ascending change number order. The sequence is computed on every range
// over it, so it can be iterated again with the same result.
func GenerateFakeOperations(entry *models.Entry, h Historical) iter.Seq[*FakeOperation] {
	return func(yield func(*FakeOperation) bool) {
		// base values of counters travel with the entry creation
		records := slices.DeleteFunc(h.Records(), func(r Record) bool { return r.CN.IsZero() })
		for start := 0; start < len(records); {
			end := start + 1
			for end < len(records) && records[end].CN == records[start].CN {
				end++
			}
			if !yield(buildFakeOperation(entry, h, records[start:end])) {
				return
			}
			start = end
		}
	}
}

func buildFakeOperation(entry *models.Entry, h Historical, group []Record) *FakeOperation {
	cn := group[0].CN
	op := &FakeOperation{
		CN:        cn,
		EntryUUID: GetEntryUUID(entry),
		TargetDN:  entry.DN,
	}

	switch cn {
	case h.deletedCN:
		op.Kind = models.OpDelete
		return op
	case h.entryCN:
		op.Kind = models.OpAdd
		op.Attributes = creationAttributes(entry, h)
		return op
	}

	op.Kind = models.OpModify

	type attrOps struct {
		replace  []string
		adds     []string
		dels     []string
		incs     []string
		name     string
		clearAll bool
	}
	var order []*attrOps
	byAttr := make(map[string]*attrOps)
	for _, rec := range group {
		ops, ok := byAttr[rec.Attribute]
		if !ok {
			ops = &attrOps{name: rec.Attribute}
			byAttr[rec.Attribute] = ops
			order = append(order, ops)
		}
		switch rec.Op {
		case OpAttrDel:
			ops.clearAll = true
		case OpRepl:
			ops.clearAll = true
			ops.replace = append(ops.replace, rec.Value)
		case OpAdd:
			ops.adds = append(ops.adds, rec.Value)
		case OpDel:
			ops.dels = append(ops.dels, rec.Value)
		case OpInc:
			ops.incs = append(ops.incs, rec.Value)
		}
	}

	for _, ops := range order {
		switch {
		case ops.clearAll && len(ops.replace) > 0:
			// other values of the same replace are encoded as plain adds
			values := append(ops.replace, ops.adds...)
			op.Mods = append(op.Mods, models.Modification{Type: models.ModReplace, Attribute: ops.name, Values: values})
		case ops.clearAll:
			op.Mods = append(op.Mods, models.Modification{Type: models.ModDelete, Attribute: ops.name})
			if len(ops.adds) > 0 {
				op.Mods = append(op.Mods, models.Modification{Type: models.ModAdd, Attribute: ops.name, Values: ops.adds})
			}
		case len(ops.adds) > 0:
			op.Mods = append(op.Mods, models.Modification{Type: models.ModAdd, Attribute: ops.name, Values: ops.adds})
		}
		if len(ops.dels) > 0 {
			op.Mods = append(op.Mods, models.Modification{Type: models.ModDelete, Attribute: ops.name, Values: ops.dels})
		}
		for _, delta := range ops.incs {
			op.Mods = append(op.Mods, models.Modification{Type: models.ModIncrement, Attribute: ops.name, Values: []string{delta}})
		}
	}
	return op
}

// creationAttributes returns the attributes of entry without the
// operational ones. Counters are reported with their base values; the
// increments are regenerated as separate operations.
func creationAttributes(entry *models.Entry, h Historical) map[string][]string {
	out := make(map[string][]string, len(entry.Attributes))
	for name, values := range maps.All(entry.Attributes) {
		if models.IsOperational(name) {
			continue
		}
		if a, ok := h.attrs[name]; ok && a.counter() {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	for name, a := range h.attrs {
		if !a.counter() {
			continue
		}
		if base := a.baseValues(); len(base) > 0 {
			out[name] = base
		}
	}
	return out
}
