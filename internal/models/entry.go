package models

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// AttrEntryUUID операционный атрибут с неизменяемым идентификатором записи
	AttrEntryUUID = "entryuuid"
	// AttrHistorical операционный атрибут с историей изменений атрибутов
	AttrHistorical = "ds-sync-hist"
)

// ErrInvalidIncrement возвращается, если increment применяется к нечисловому значению
var ErrInvalidIncrement = errors.New("increment requires integer values")

// Entry представляет запись каталога: DN и набор атрибутов.
// Операционные атрибуты entryUUID и ds-sync-hist хранятся вместе с пользовательскими.
type Entry struct {
	Attributes map[string][]string `json:"attributes"`        // Attributes атрибуты, ключ - нормализованный тип
	DN         string              `json:"dn"`                // DN имя записи
	Version    int64               `json:"version"`           // Version версия записи в хранилище (оптимистичная блокировка)
	Deleted    bool                `json:"deleted,omitempty"` // Deleted флаг soft delete: запись-надгробие хранит только операционные атрибуты
}

// NewEntry создает пустую запись с заданным DN и UUID
func NewEntry(dn string, id uuid.UUID) *Entry {
	return &Entry{
		DN: dn,
		Attributes: map[string][]string{
			AttrEntryUUID: {id.String()},
		},
	}
}

// EntryUUID возвращает значение атрибута entryUUID или пустую строку
func (e *Entry) EntryUUID() string {
	if e == nil {
		return ""
	}
	values := e.Attributes[AttrEntryUUID]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Key возвращает нормализованный DN, используемый как ключ хранилища
func (e *Entry) Key() string {
	return NormalizeDN(e.DN)
}

// Values возвращает значения атрибута (nil, если атрибута нет)
func (e *Entry) Values(attr string) []string {
	return e.Attributes[NormalizeAttr(attr)]
}

// HasValue проверяет наличие конкретного значения атрибута
func (e *Entry) HasValue(attr, value string) bool {
	for _, v := range e.Values(attr) {
		if v == value {
			return true
		}
	}
	return false
}

// SetValues заменяет значения атрибута; пустой список удаляет атрибут
func (e *Entry) SetValues(attr string, values []string) {
	key := NormalizeAttr(attr)
	if len(values) == 0 {
		delete(e.Attributes, key)
		return
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string][]string)
	}
	cp := make([]string, len(values))
	copy(cp, values)
	e.Attributes[key] = cp
}

// AttributeNames возвращает отсортированный список типов атрибутов
func (e *Entry) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for name := range e.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone создает глубокую копию записи
func (e *Entry) Clone() *Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for k, v := range e.Attributes {
		cp := make([]string, len(v))
		copy(cp, v)
		attrs[k] = cp
	}
	return &Entry{
		DN:         e.DN,
		Attributes: attrs,
		Version:    e.Version,
		Deleted:    e.Deleted,
	}
}

// Tombstone возвращает копию записи, помеченную как удаленная.
// Пользовательские атрибуты отбрасываются, операционные сохраняются.
func (e *Entry) Tombstone() *Entry {
	t := e.Clone()
	for name := range t.Attributes {
		if !IsOperational(name) {
			delete(t.Attributes, name)
		}
	}
	t.Deleted = true
	return t
}

// Apply применяет изменения к записи.
// Применение терпимо к уже существующим или отсутствующим значениям:
// повторное добавление и удаление отсутствующего значения ничего не меняют.
func (e *Entry) Apply(mods []Modification) error {
	for _, mod := range mods {
		if err := e.apply(mod); err != nil {
			return fmt.Errorf("failed to apply %s: %w", mod, err)
		}
	}
	return nil
}

func (e *Entry) apply(mod Modification) error {
	attr := NormalizeAttr(mod.Attribute)
	current := e.Attributes[attr]

	switch mod.Type {
	case ModAdd:
		for _, v := range mod.Values {
			if !contains(current, v) {
				current = append(current, v)
			}
		}
		e.SetValues(attr, current)

	case ModDelete:
		// Без значений удаляем атрибут целиком
		if len(mod.Values) == 0 {
			delete(e.Attributes, attr)
			return nil
		}
		remaining := current[:0:0]
		for _, v := range current {
			if !contains(mod.Values, v) {
				remaining = append(remaining, v)
			}
		}
		e.SetValues(attr, remaining)

	case ModReplace:
		e.SetValues(attr, dedupe(mod.Values))

	case ModIncrement:
		if len(mod.Values) != 1 {
			return fmt.Errorf("%w: increment needs exactly one delta", ErrInvalidIncrement)
		}
		delta, err := strconv.ParseInt(mod.Values[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: delta %q", ErrInvalidIncrement, mod.Values[0])
		}
		next := make([]string, 0, len(current))
		for _, v := range current {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: value %q", ErrInvalidIncrement, v)
			}
			next = append(next, strconv.FormatInt(n+delta, 10))
		}
		e.SetValues(attr, next)

	default:
		return fmt.Errorf("unsupported modification type %s", mod.Type)
	}

	return nil
}

// NormalizeAttr приводит тип атрибута к каноническому виду (нижний регистр без пробелов)
func NormalizeAttr(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeDN приводит DN к каноническому виду для сравнения и использования как ключ.
// Регистр и пробелы вокруг разделителей RDN не значимы.
func NormalizeDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, part := range parts {
		rdn := strings.TrimSpace(part)
		if eq := strings.IndexByte(rdn, '='); eq >= 0 {
			rdn = strings.TrimSpace(rdn[:eq]) + "=" + strings.TrimSpace(rdn[eq+1:])
		}
		parts[i] = strings.ToLower(rdn)
	}
	return strings.Join(parts, ",")
}

// IsOperational сообщает, что атрибут управляется сервером репликации
func IsOperational(attr string) bool {
	switch NormalizeAttr(attr) {
	case AttrEntryUUID, AttrHistorical:
		return true
	}
	return false
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
