package handlers

import (
	"log/slog"
	"net/http"

	"github.com/iudanet/dirsync/pkg/api"
)

// DomainLister перечисляет обслуживаемые домены репликации
type DomainLister interface {
	Domains() []string
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	domains DomainLister
	version string
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger, version string, domains DomainLister) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		domains: domains,
		version: version,
	}
}

// Health обрабатывает GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:  "ok",
		Version: h.version,
	}
	if h.domains != nil {
		resp.Domains = h.domains.Domains()
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}
