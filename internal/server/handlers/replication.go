package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/pkg/api"
)

const (
	defaultChangesLimit = 500
	maxChangesLimit     = 5000
	maxUpdatesPerBatch  = 1000
)

// ChangeSource отдает операции реплики, выполненные после указанного ChangeNumber
type ChangeSource interface {
	ChangesSince(ctx context.Context, since crdt.ChangeNumber, limit int) ([]*models.UpdateMsg, error)
}

// ReplicationHandler обрабатывает обмен изменениями между репликами
type ReplicationHandler struct {
	logger    *slog.Logger
	submitter replication.Submitter
	changes   ChangeSource
}

// NewReplicationHandler создает handler репликации
func NewReplicationHandler(logger *slog.Logger, submitter replication.Submitter, changes ChangeSource) *ReplicationHandler {
	return &ReplicationHandler{
		logger:    logger,
		submitter: submitter,
		changes:   changes,
	}
}

// HandleUpdates обрабатывает POST /api/v1/replication/updates.
// Сообщения воспроизводятся по порядку; ошибка одного сообщения не прерывает остальные.
func (h *ReplicationHandler) HandleUpdates(w http.ResponseWriter, r *http.Request) {
	replicaID, ok := GetReplicaID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "replica token required", nil)
		return
	}

	var req api.UpdatesRequest
	if err := decodeJSON(r, w, &req); err != nil {
		h.logger.Warn("Failed to decode updates request", "replica_id", replicaID, "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Updates) > maxUpdatesPerBatch {
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "too many updates in one request", nil)
		return
	}

	resp := api.UpdatesResponse{Results: make([]api.UpdateResult, 0, len(req.Updates))}
	failed := 0
	for _, msg := range req.Updates {
		if msg == nil {
			resp.Results = append(resp.Results, api.UpdateResult{Error: "empty update"})
			failed++
			continue
		}

		result := api.UpdateResult{CN: msg.CN}
		outcome, err := h.submitter.Submit(r.Context(), msg)
		if err != nil {
			result.Error = err.Error()
			failed++
			h.logger.Warn("Failed to replay update",
				"replica_id", replicaID,
				"msg", msg.String(),
				"error", err,
			)
		} else {
			result.Outcome = string(outcome)
		}
		resp.Results = append(resp.Results, result)
	}

	h.logger.Info("Updates received",
		"replica_id", replicaID,
		"replica", GetReplicaName(r.Context()),
		"count", len(req.Updates),
		"failed", failed,
	)

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// HandleChanges обрабатывает GET /api/v1/replication/changes?since=<cn>&limit=<n>
func (h *ReplicationHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	replicaID, ok := GetReplicaID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "replica token required", nil)
		return
	}

	var since crdt.ChangeNumber
	if s := r.URL.Query().Get("since"); s != "" {
		cn, err := crdt.ParseChangeNumber(s)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "invalid since parameter", err)
			return
		}
		since = cn
	}

	limit := defaultChangesLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxChangesLimit)
	}

	changes, err := h.changes.ChangesSince(r.Context(), since, limit)
	if err != nil {
		h.logger.Error("Failed to collect changes", "replica_id", replicaID, "since", since.String(), "error", err)
		writeError(w, h.logger, statusOf(err), "failed to collect changes", nil)
		return
	}
	if changes == nil {
		changes = []*models.UpdateMsg{}
	}

	h.logger.Debug("Changes served",
		"replica_id", replicaID,
		"since", since.String(),
		"count", len(changes),
	)

	writeJSON(w, h.logger, http.StatusOK, api.ChangesResponse{Changes: changes})
}
