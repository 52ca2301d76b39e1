package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/pkg/api"
)

func updateMsg(dn string, ts uint64) *models.UpdateMsg {
	return &models.UpdateMsg{
		Kind:      models.OpDelete,
		TargetDN:  dn,
		EntryUUID: testUUID,
		CN:        crdt.NewChangeNumber(ts, 0, 2),
	}
}

func TestReplicationHandler_HandleUpdates(t *testing.T) {
	submitter := &fakeSubmitter{
		outcomes: map[string]replication.Outcome{"uid=b,dc=example": replication.OutcomeReplayed},
		errs:     map[string]error{"uid=c,dc=example": replication.ErrNoDomain},
	}
	handler := NewReplicationHandler(setupTestLogger(), submitter, &fakeChangeSource{})

	body, err := json.Marshal(api.UpdatesRequest{Updates: []*models.UpdateMsg{
		updateMsg("uid=a,dc=example", 1),
		updateMsg("uid=b,dc=example", 2),
		updateMsg("uid=c,dc=example", 3),
		nil,
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/replication/updates", bytes.NewReader(body))
	req = req.WithContext(withReplica(req.Context(), 2))
	w := httptest.NewRecorder()

	handler.HandleUpdates(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.UpdatesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 4)

	assert.Equal(t, string(replication.OutcomeApplied), resp.Results[0].Outcome)
	assert.Equal(t, crdt.NewChangeNumber(1, 0, 2), resp.Results[0].CN)
	assert.Equal(t, string(replication.OutcomeReplayed), resp.Results[1].Outcome)
	assert.Empty(t, resp.Results[2].Outcome)
	assert.Contains(t, resp.Results[2].Error, "no replication domain")
	assert.NotEmpty(t, resp.Results[3].Error)

	// порядок воспроизведения совпадает с порядком в запросе
	require.Len(t, submitter.received, 3)
	assert.Equal(t, "uid=a,dc=example", submitter.received[0].TargetDN)
	assert.Equal(t, "uid=c,dc=example", submitter.received[2].TargetDN)
}

func TestReplicationHandler_HandleUpdates_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		replicaID  uint16
		wantStatus int
	}{
		{name: "no replica in context", body: `{"updates":[]}`, wantStatus: http.StatusUnauthorized},
		{name: "invalid json", body: `{"updates":`, replicaID: 2, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"entries":[]}`, replicaID: 2, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := &fakeSubmitter{}
			handler := NewReplicationHandler(setupTestLogger(), submitter, &fakeChangeSource{})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/replication/updates", bytes.NewBufferString(tt.body))
			if tt.replicaID != 0 {
				req = req.WithContext(withReplica(req.Context(), tt.replicaID))
			}
			w := httptest.NewRecorder()

			handler.HandleUpdates(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, submitter.received)

			var errResp api.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestReplicationHandler_HandleChanges(t *testing.T) {
	changes := []*models.UpdateMsg{updateMsg(testDN, 11), updateMsg(testDN, 12)}

	tests := []struct {
		name       string
		query      string
		wantSince  crdt.ChangeNumber
		wantLimit  int
		wantStatus int
	}{
		{name: "defaults", query: "", wantLimit: defaultChangesLimit, wantStatus: http.StatusOK},
		{name: "since and limit", query: "?since=10:1:3&limit=2", wantSince: crdt.NewChangeNumber(10, 1, 3), wantLimit: 2, wantStatus: http.StatusOK},
		{name: "limit capped", query: "?limit=1000000", wantLimit: maxChangesLimit, wantStatus: http.StatusOK},
		{name: "invalid since", query: "?since=yesterday", wantStatus: http.StatusBadRequest},
		{name: "invalid limit", query: "?limit=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeChangeSource{changes: changes}
			handler := NewReplicationHandler(setupTestLogger(), &fakeSubmitter{}, source)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/replication/changes"+tt.query, nil)
			req = req.WithContext(withReplica(req.Context(), 3))
			w := httptest.NewRecorder()

			handler.HandleChanges(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantSince, source.since)
			assert.Equal(t, tt.wantLimit, source.limit)

			var resp api.ChangesResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, changes, resp.Changes)
		})
	}
}

func TestReplicationHandler_HandleChanges_Empty(t *testing.T) {
	handler := NewReplicationHandler(setupTestLogger(), &fakeSubmitter{}, &fakeChangeSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/replication/changes", nil)
	req = req.WithContext(withReplica(req.Context(), 3))
	w := httptest.NewRecorder()

	handler.HandleChanges(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"changes":[]}`, w.Body.String())
}

func TestReplicationHandler_HandleChanges_SourceError(t *testing.T) {
	handler := NewReplicationHandler(setupTestLogger(), &fakeSubmitter{}, &fakeChangeSource{err: errBackend})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/replication/changes", nil)
	req = req.WithContext(withReplica(req.Context(), 3))
	w := httptest.NewRecorder()

	handler.HandleChanges(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), errBackend.Error())
}

func TestReplicationHandler_HandleChanges_Unauthorized(t *testing.T) {
	source := &fakeChangeSource{}
	handler := NewReplicationHandler(setupTestLogger(), &fakeSubmitter{}, source)

	w := httptest.NewRecorder()
	handler.HandleChanges(w, httptest.NewRequest(http.MethodGet, "/api/v1/replication/changes", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, source.limit)
}
