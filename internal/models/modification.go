package models

import (
	"fmt"
	"strings"
)

// ModificationType тип изменения атрибута
type ModificationType int

const (
	// ModAdd добавляет значения атрибута
	ModAdd ModificationType = iota + 1
	// ModDelete удаляет перечисленные значения или весь атрибут, если значений нет
	ModDelete
	// ModReplace заменяет все значения атрибута (пустой список удаляет атрибут)
	ModReplace
	// ModIncrement увеличивает числовое значение атрибута
	ModIncrement
)

// String возвращает имя типа изменения
func (t ModificationType) String() string {
	switch t {
	case ModAdd:
		return "add"
	case ModDelete:
		return "delete"
	case ModReplace:
		return "replace"
	case ModIncrement:
		return "increment"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// MarshalText кодирует тип изменения в JSON как строку
func (t ModificationType) MarshalText() ([]byte, error) {
	switch t {
	case ModAdd, ModDelete, ModReplace, ModIncrement:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("unknown modification type %d", int(t))
	}
}

// UnmarshalText разбирает тип изменения из строки
func (t *ModificationType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "add":
		*t = ModAdd
	case "delete":
		*t = ModDelete
	case "replace":
		*t = ModReplace
	case "increment":
		*t = ModIncrement
	default:
		return fmt.Errorf("unknown modification type %q", string(text))
	}
	return nil
}

// Modification описывает изменение одного атрибута записи
type Modification struct {
	Attribute string           `json:"attribute"`        // Attribute тип атрибута
	Values    []string         `json:"values,omitempty"` // Values значения (пусто для удаления всего атрибута)
	Type      ModificationType `json:"type"`             // Type тип изменения
}

// NewModification создает изменение с нормализованным именем атрибута
func NewModification(modType ModificationType, attribute string, values ...string) Modification {
	return Modification{
		Type:      modType,
		Attribute: NormalizeAttr(attribute),
		Values:    values,
	}
}

// Clone создает глубокую копию изменения
func (m Modification) Clone() Modification {
	var values []string
	if m.Values != nil {
		values = make([]string, len(m.Values))
		copy(values, m.Values)
	}
	return Modification{
		Type:      m.Type,
		Attribute: m.Attribute,
		Values:    values,
	}
}

// String возвращает краткое описание изменения для логов
func (m Modification) String() string {
	return fmt.Sprintf("%s %s %v", m.Type, m.Attribute, m.Values)
}

// CloneModifications копирует список изменений
func CloneModifications(mods []Modification) []Modification {
	if mods == nil {
		return nil
	}
	out := make([]Modification, len(mods))
	for i, m := range mods {
		out[i] = m.Clone()
	}
	return out
}
