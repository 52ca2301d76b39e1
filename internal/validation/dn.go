package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// AttributeTypePattern определяет допустимый формат типа атрибута
// Буква, затем латинские буквы, цифры и дефис (descr из RFC 4512)
var AttributeTypePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{0,63}$`)

const (
	// MaxDNLen максимальная длина DN
	MaxDNLen = 1024
)

// ValidateDN проверяет, что DN непустой и каждый RDN имеет вид type=value
func ValidateDN(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("dn cannot be empty")
	}

	if len(dn) > MaxDNLen {
		return fmt.Errorf("dn must not exceed %d characters", MaxDNLen)
	}

	for _, rdn := range strings.Split(dn, ",") {
		attr, value, ok := strings.Cut(rdn, "=")
		if !ok {
			return fmt.Errorf("rdn %q must have the form type=value", strings.TrimSpace(rdn))
		}
		if err := ValidateAttributeType(strings.TrimSpace(attr)); err != nil {
			return fmt.Errorf("rdn %q: %w", strings.TrimSpace(rdn), err)
		}
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("rdn %q has an empty value", strings.TrimSpace(rdn))
		}
	}

	return nil
}

// ValidateAttributeType проверяет имя типа атрибута
func ValidateAttributeType(attr string) error {
	if attr == "" {
		return fmt.Errorf("attribute type cannot be empty")
	}

	if !AttributeTypePattern.MatchString(attr) {
		return fmt.Errorf("attribute type %q can only contain letters, digits and hyphens", attr)
	}

	return nil
}

// ValidateEntryUUID проверяет, что значение является UUID
func ValidateEntryUUID(id string) error {
	if id == "" {
		return fmt.Errorf("entry uuid cannot be empty")
	}

	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid entry uuid %q: %w", id, err)
	}

	return nil
}
