package models

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/validation"
)

// ErrInvalidUpdate возвращается для сообщений репликации, которые нельзя применить
var ErrInvalidUpdate = errors.New("invalid update message")

// OperationKind вид операции над записью
type OperationKind string

const (
	// OpAdd создание записи
	OpAdd OperationKind = "add"
	// OpModify изменение атрибутов записи
	OpModify OperationKind = "modify"
	// OpDelete удаление записи
	OpDelete OperationKind = "delete"
)

// UpdateMsg сообщение репликации об одной операции над записью.
// Все изменения одного сообщения имеют общий ChangeNumber.
type UpdateMsg struct {
	Attributes map[string][]string `json:"attributes,omitempty"` // Attributes атрибуты создаваемой записи (только для add)
	EntryUUID  string              `json:"entry_uuid"`           // EntryUUID идентификатор целевой записи
	TargetDN   string              `json:"target_dn"`            // TargetDN DN целевой записи
	Kind       OperationKind       `json:"kind"`                 // Kind вид операции
	Mods       []Modification      `json:"mods,omitempty"`       // Mods изменения атрибутов (только для modify)
	CN         crdt.ChangeNumber   `json:"cn"`                   // CN номер изменения
}

// Validate проверяет структурную корректность сообщения
func (m *UpdateMsg) Validate() error {
	if m.CN.IsZero() {
		return fmt.Errorf("%w: change number is missing", ErrInvalidUpdate)
	}
	if err := validation.ValidateDN(m.TargetDN); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}
	if err := validation.ValidateEntryUUID(m.EntryUUID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}

	switch m.Kind {
	case OpAdd:
		for attr := range m.Attributes {
			if err := validation.ValidateAttributeType(attr); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
			}
		}
	case OpModify:
		if len(m.Mods) == 0 {
			return fmt.Errorf("%w: modify without modifications", ErrInvalidUpdate)
		}
		for _, mod := range m.Mods {
			if err := validation.ValidateAttributeType(mod.Attribute); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
			}
			if _, err := mod.Type.MarshalText(); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
			}
			if mod.Type == ModIncrement {
				if len(mod.Values) != 1 {
					return fmt.Errorf("%w: %w: %s needs exactly one delta", ErrInvalidUpdate, ErrInvalidIncrement, mod.Attribute)
				}
				if _, err := strconv.ParseInt(mod.Values[0], 10, 64); err != nil {
					return fmt.Errorf("%w: %w: delta %q", ErrInvalidUpdate, ErrInvalidIncrement, mod.Values[0])
				}
			}
		}
	case OpDelete:
	default:
		return fmt.Errorf("%w: unknown operation kind %q", ErrInvalidUpdate, m.Kind)
	}

	return nil
}

// String возвращает краткое описание сообщения для логов
func (m *UpdateMsg) String() string {
	return fmt.Sprintf("%s %s cn=%s uuid=%s", m.Kind, m.TargetDN, m.CN, m.EntryUUID)
}
