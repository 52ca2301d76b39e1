package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/internal/storage"
	"github.com/iudanet/dirsync/pkg/api"
)

// maxBodySize ограничение размера тела запроса
const maxBodySize = 8 << 20

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string, err error) {
	resp := api.ErrorResponse{Error: http.StatusText(status), Message: message}
	if err != nil {
		resp.Message = message + ": " + err.Error()
	}
	writeJSON(w, logger, status, resp)
}

func decodeJSON(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusOf сопоставляет ошибку домена HTTP статусу
func statusOf(err error) int {
	switch {
	case errors.Is(err, storage.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, replication.ErrEntryExists),
		errors.Is(err, replication.ErrChangeSuperseded):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidUpdate),
		errors.Is(err, models.ErrInvalidIncrement),
		errors.Is(err, replication.ErrNoDomain),
		errors.Is(err, crdt.ErrInvalidChangeNumber):
		return http.StatusBadRequest
	case errors.Is(err, replication.ErrDispatcherClosed),
		errors.Is(err, storage.ErrStorageClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
