package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
	"github.com/iudanet/dirsync/pkg/api"
)

// EntryOriginator выполняет локальные изменения записей
type EntryOriginator interface {
	Add(ctx context.Context, dn string, attrs map[string][]string) (*models.UpdateMsg, error)
	Modify(ctx context.Context, dn string, mods []models.Modification) (*models.UpdateMsg, error)
	Delete(ctx context.Context, dn string) (*models.UpdateMsg, error)
}

// EntriesHandler обрабатывает локальные операции над записями каталога
type EntriesHandler struct {
	logger     *slog.Logger
	originator EntryOriginator
	store      storage.Reader
}

// NewEntriesHandler создает handler записей
func NewEntriesHandler(logger *slog.Logger, originator EntryOriginator, store storage.Reader) *EntriesHandler {
	return &EntriesHandler{
		logger:     logger,
		originator: originator,
		store:      store,
	}
}

// HandleGet обрабатывает GET /api/v1/entries?dn=<dn>
func (h *EntriesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	dn := r.URL.Query().Get("dn")
	if dn == "" {
		writeError(w, h.logger, http.StatusBadRequest, "dn parameter is required", nil)
		return
	}

	entry, err := h.store.GetEntry(r.Context(), dn)
	if err == nil && entry.Deleted {
		err = storage.ErrEntryNotFound
	}
	if err != nil {
		h.respondError(w, "get", dn, err)
		return
	}

	attrs := make(map[string][]string, len(entry.Attributes))
	for _, name := range entry.AttributeNames() {
		if !models.IsOperational(name) {
			attrs[name] = entry.Values(name)
		}
	}
	writeJSON(w, h.logger, http.StatusOK, api.EntryResponse{
		DN:         entry.DN,
		EntryUUID:  entry.EntryUUID(),
		Attributes: attrs,
	})
}

// HandleAdd обрабатывает POST /api/v1/entries/add
func (h *EntriesHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req api.AddRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	msg, err := h.originator.Add(r.Context(), req.DN, req.Attributes)
	if err != nil {
		h.respondError(w, "add", req.DN, err)
		return
	}

	h.logger.Info("Entry added", "dn", msg.TargetDN, "cn", msg.CN.String())
	writeJSON(w, h.logger, http.StatusCreated, api.UpdateResponse{Update: msg})
}

// HandleModify обрабатывает POST /api/v1/entries/modify
func (h *EntriesHandler) HandleModify(w http.ResponseWriter, r *http.Request) {
	var req api.ModifyRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	msg, err := h.originator.Modify(r.Context(), req.DN, req.Mods)
	if err != nil {
		h.respondError(w, "modify", req.DN, err)
		return
	}

	h.logger.Info("Entry modified", "dn", msg.TargetDN, "cn", msg.CN.String(), "mods", len(msg.Mods))
	writeJSON(w, h.logger, http.StatusOK, api.UpdateResponse{Update: msg})
}

// HandleDelete обрабатывает POST /api/v1/entries/delete
func (h *EntriesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}

	msg, err := h.originator.Delete(r.Context(), req.DN)
	if err != nil {
		h.respondError(w, "delete", req.DN, err)
		return
	}

	h.logger.Info("Entry deleted", "dn", msg.TargetDN, "cn", msg.CN.String())
	writeJSON(w, h.logger, http.StatusOK, api.UpdateResponse{Update: msg})
}

func (h *EntriesHandler) respondError(w http.ResponseWriter, op, dn string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Entry operation failed", "op", op, "dn", dn, "error", err)
		writeError(w, h.logger, status, op+" failed", nil)
		return
	}
	h.logger.Debug("Entry operation rejected", "op", op, "dn", dn, "error", err)
	writeError(w, h.logger, status, op+" rejected", err)
}
