package historical

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/dirsync/internal/crdt"
)

// ErrMalformedRecord is returned when a historical value cannot be parsed.
var ErrMalformedRecord = errors.New("malformed historical record")

// Opcode identifies the operation a historical record remembers.
type Opcode string

const (
	// OpAdd records that a value was added.
	OpAdd Opcode = "add"
	// OpDel records that a value was deleted.
	OpDel Opcode = "del"
	// OpRepl records a replace of the whole attribute together with one of its new values.
	OpRepl Opcode = "repl"
	// OpAttrDel records that all values of the attribute were deleted.
	OpAttrDel Opcode = "attrDel"
	// OpInc records an increment; the value is the delta.
	OpInc Opcode = "inc"
)

// entryAttr is the pseudo attribute type of the entry creation and
// deletion records.
const entryAttr = "dn"

func (o Opcode) valid() bool {
	switch o {
	case OpAdd, OpDel, OpRepl, OpAttrDel, OpInc:
		return true
	}
	return false
}

// Record is one value of the historical operational attribute:
//
//	<attributeType>:<timestamp>:<sequence>:<replicaId>:<opcode>[:<value>]
type Record struct {
	Attribute string
	Value     string
	Op        Opcode
	CN        crdt.ChangeNumber
	HasValue  bool
}

// ParseRecord parses one historical value. The value part may itself
// contain colons.
func ParseRecord(s string) (Record, error) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) < 5 {
		return Record{}, fmt.Errorf("%w: %q has %d fields", ErrMalformedRecord, s, len(parts))
	}

	attr := strings.ToLower(parts[0])
	if attr == "" {
		return Record{}, fmt.Errorf("%w: %q has no attribute type", ErrMalformedRecord, s)
	}

	cn, err := crdt.ParseChangeNumberParts(parts[1], parts[2], parts[3])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, s, err)
	}

	op := Opcode(parts[4])
	if !op.valid() {
		return Record{}, fmt.Errorf("%w: %q has unknown opcode %q", ErrMalformedRecord, s, parts[4])
	}

	rec := Record{Attribute: attr, CN: cn, Op: op}
	if len(parts) == 6 {
		rec.Value = parts[5]
		rec.HasValue = true
	}
	return rec, nil
}

// String encodes the record in its persisted form.
func (r Record) String() string {
	var b strings.Builder
	b.WriteString(r.Attribute)
	b.WriteByte(':')
	b.WriteString(r.CN.String())
	b.WriteByte(':')
	b.WriteString(string(r.Op))
	if r.HasValue {
		b.WriteByte(':')
		b.WriteString(r.Value)
	}
	return b.String()
}

func valueRecord(attr string, op Opcode, cn crdt.ChangeNumber, value string) Record {
	return Record{Attribute: attr, CN: cn, Op: op, Value: value, HasValue: true}
}
