package models

// Schema описывает то немногое из схемы каталога, что нужно при разрешении
// конфликтов: какие атрибуты однозначные.
// Нулевой указатель означает схему, где все атрибуты многозначные.
type Schema struct {
	singleValued map[string]struct{}
}

// NewSchema создает схему с заданным списком однозначных атрибутов
func NewSchema(singleValued ...string) *Schema {
	s := &Schema{singleValued: make(map[string]struct{}, len(singleValued))}
	for _, attr := range singleValued {
		s.singleValued[NormalizeAttr(attr)] = struct{}{}
	}
	return s
}

// IsSingleValued сообщает, допускает ли атрибут не более одного значения
func (s *Schema) IsSingleValued(attr string) bool {
	if s == nil {
		return false
	}
	_, ok := s.singleValued[NormalizeAttr(attr)]
	return ok
}
