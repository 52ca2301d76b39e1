package crdt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidChangeNumber возвращается при разборе некорректной строки ChangeNumber.
var ErrInvalidChangeNumber = errors.New("invalid change number")

// ChangeNumber представляет логическое время изменения: когда и на какой реплике
// оно было выполнено. Значения неизменяемы и полностью упорядочены:
// сначала Timestamp, затем Seq, затем ReplicaID.
type ChangeNumber struct {
	Timestamp uint64 `json:"timestamp"`  // Timestamp время в миллисекундах
	Seq       uint16 `json:"seq"`        // Seq порядковый номер внутри одной миллисекунды
	ReplicaID uint16 `json:"replica_id"` // ReplicaID идентификатор реплики, выпустившей номер
}

// NewChangeNumber создает ChangeNumber из трех компонент.
func NewChangeNumber(timestamp uint64, seq, replicaID uint16) ChangeNumber {
	return ChangeNumber{Timestamp: timestamp, Seq: seq, ReplicaID: replicaID}
}

// Compare сравнивает два ChangeNumber.
// Возвращает -1 если a < b, 0 если a == b, 1 если a > b.
func Compare(a, b ChangeNumber) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}

	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}

	switch {
	case a.ReplicaID < b.ReplicaID:
		return -1
	case a.ReplicaID > b.ReplicaID:
		return 1
	}

	return 0
}

// Newer возвращает true, если cn строго новее other.
// Равные номера не считаются более новыми: повторное применение той же
// операции проигрывает самой себе.
func (cn ChangeNumber) Newer(other ChangeNumber) bool {
	return Compare(cn, other) > 0
}

// Older возвращает true, если cn строго старее other.
func (cn ChangeNumber) Older(other ChangeNumber) bool {
	return Compare(cn, other) < 0
}

// IsZero сообщает, что номер не задан.
// Нулевой номер старее любого реального изменения.
func (cn ChangeNumber) IsZero() bool {
	return cn == ChangeNumber{}
}

// String возвращает представление вида <timestamp>:<seq>:<replicaId>.
func (cn ChangeNumber) String() string {
	return fmt.Sprintf("%d:%d:%d", cn.Timestamp, cn.Seq, cn.ReplicaID)
}

// SortKey возвращает строку фиксированной ширины, лексикографический
// порядок которой совпадает с порядком Compare. Используется как ключ индекса.
func (cn ChangeNumber) SortKey() string {
	return fmt.Sprintf("%020d.%05d.%05d", cn.Timestamp, cn.Seq, cn.ReplicaID)
}

// Max возвращает более новый из двух номеров.
func Max(a, b ChangeNumber) ChangeNumber {
	if a.Newer(b) {
		return a
	}
	return b
}

// ParseChangeNumber разбирает строку вида <timestamp>:<seq>:<replicaId>.
func ParseChangeNumber(s string) (ChangeNumber, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ChangeNumber{}, fmt.Errorf("%w: %q", ErrInvalidChangeNumber, s)
	}
	return parseParts(parts[0], parts[1], parts[2])
}

// ParseChangeNumberParts разбирает номер, уже разделенный на компоненты.
// Используется декодером исторических записей.
func ParseChangeNumberParts(timestamp, seq, replicaID string) (ChangeNumber, error) {
	return parseParts(timestamp, seq, replicaID)
}

func parseParts(timestamp, seq, replicaID string) (ChangeNumber, error) {
	ts, err := strconv.ParseUint(timestamp, 10, 64)
	if err != nil {
		return ChangeNumber{}, fmt.Errorf("%w: timestamp %q", ErrInvalidChangeNumber, timestamp)
	}

	sq, err := strconv.ParseUint(seq, 10, 16)
	if err != nil {
		return ChangeNumber{}, fmt.Errorf("%w: sequence %q", ErrInvalidChangeNumber, seq)
	}

	rid, err := strconv.ParseUint(replicaID, 10, 16)
	if err != nil {
		return ChangeNumber{}, fmt.Errorf("%w: replica id %q", ErrInvalidChangeNumber, replicaID)
	}

	return ChangeNumber{Timestamp: ts, Seq: uint16(sq), ReplicaID: uint16(rid)}, nil
}
