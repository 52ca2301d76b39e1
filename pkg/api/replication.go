package api

import (
	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
)

// UpdatesRequest пакет сообщений репликации от другой реплики
type UpdatesRequest struct {
	Updates []*models.UpdateMsg `json:"updates"`
}

// UpdateResult результат воспроизведения одного сообщения
type UpdateResult struct {
	Outcome string            `json:"outcome,omitempty"` // Outcome результат replay (applied, suppressed, ...)
	Error   string            `json:"error,omitempty"`   // Error ошибка, если сообщение не было применено
	CN      crdt.ChangeNumber `json:"cn"`                // CN номер изменения сообщения
}

// UpdatesResponse ответ на пакет сообщений, результаты в порядке запроса
type UpdatesResponse struct {
	Results []UpdateResult `json:"results"`
}

// ChangesResponse изменения реплики после указанного ChangeNumber
type ChangesResponse struct {
	Changes []*models.UpdateMsg `json:"changes"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status  string   `json:"status"`
	Version string   `json:"version,omitempty"`
	Domains []string `json:"domains,omitempty"`
}
