package peer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/server/handlers"
	"github.com/iudanet/dirsync/pkg/api"
)

const testUUID = "11111111-2222-3333-4444-555555555555"

// setupTestLogger создает logger для тестов
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testIdentity() Identity {
	return Identity{
		ID:   5,
		Name: "replica-5",
		JWT: handlers.JWTConfig{
			Secret:   []byte("0123456789abcdef0123456789abcdef"),
			TokenTTL: time.Minute,
		},
	}
}

func testMsg(ts uint64) *models.UpdateMsg {
	return &models.UpdateMsg{
		Kind:      models.OpDelete,
		TargetDN:  "uid=alice,dc=example",
		EntryUUID: testUUID,
		CN:        crdt.NewChangeNumber(ts, 0, 5),
	}
}

// fakeReplica проверяет токен и отвечает заданным handler
type fakeReplica struct {
	t       *testing.T
	handler http.HandlerFunc
	tokens  []string
	mu      sync.Mutex
}

func (f *fakeReplica) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, err := handlers.ValidateReplicaToken(testIdentity().JWT, token)
	if !assert.NoError(f.t, err) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	assert.Equal(f.t, uint16(5), claims.ReplicaID)

	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	f.handler(w, r)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *fakeReplica) {
	t.Helper()
	replica := &fakeReplica{t: t, handler: handler}
	srv := httptest.NewServer(replica)
	t.Cleanup(srv.Close)

	client := NewClient("remote", srv.URL+"/", testIdentity(), setupTestLogger(),
		WithHTTPClient(srv.Client()),
		WithRetry(2, time.Millisecond),
	)
	return client, replica
}

func TestClient_PushUpdates(t *testing.T) {
	var (
		received api.UpdatesRequest
		mu       sync.Mutex
	)
	client, replica := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/replication/updates", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.UpdatesRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		received = req
		mu.Unlock()

		resp := api.UpdatesResponse{}
		for _, msg := range req.Updates {
			resp.Results = append(resp.Results, api.UpdateResult{CN: msg.CN, Outcome: "applied"})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	msgs := []*models.UpdateMsg{testMsg(1), testMsg(2)}
	require.NoError(t, client.PushUpdates(t.Context(), msgs))
	require.NoError(t, client.PushUpdates(t.Context(), msgs))

	assert.Equal(t, "remote", client.Name())
	mu.Lock()
	assert.Equal(t, msgs, received.Updates)
	mu.Unlock()

	// токен выпускается один раз и переиспользуется
	replica.mu.Lock()
	defer replica.mu.Unlock()
	require.Len(t, replica.tokens, 2)
	assert.Equal(t, replica.tokens[0], replica.tokens[1])
}

func TestClient_PushUpdates_Empty(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	})

	require.NoError(t, client.PushUpdates(t.Context(), nil))
	assert.Zero(t, calls.Load())
}

func TestClient_PushUpdates_Rejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.UpdatesResponse{Results: []api.UpdateResult{
			{CN: crdt.NewChangeNumber(1, 0, 5), Outcome: "applied"},
			{CN: crdt.NewChangeNumber(2, 0, 5), Error: "no replication domain for dn"},
		}})
	})

	err := client.PushUpdates(t.Context(), []*models.UpdateMsg{testMsg(1), testMsg(2)})
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "2:0:5")
	assert.NotContains(t, err.Error(), "1:0:5")
}

func TestClient_FetchChanges(t *testing.T) {
	changes := []*models.UpdateMsg{testMsg(11), testMsg(12)}

	tests := []struct {
		name      string
		since     crdt.ChangeNumber
		limit     int
		wantQuery string
	}{
		{name: "from start", wantQuery: ""},
		{name: "since and limit", since: crdt.NewChangeNumber(10, 2, 3), limit: 50, wantQuery: "limit=50&since=10%3A2%3A3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/v1/replication/changes", r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				_ = json.NewEncoder(w).Encode(api.ChangesResponse{Changes: changes})
			})

			got, err := client.FetchChanges(t.Context(), tt.since, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, changes, got)
		})
	}
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		failures  int32
		wantCalls int32
		wantErr   bool
	}{
		{name: "recovers after unavailable", status: http.StatusServiceUnavailable, failures: 2, wantCalls: 3},
		{name: "recovers after rate limit", status: http.StatusTooManyRequests, failures: 1, wantCalls: 2},
		{name: "gives up", status: http.StatusInternalServerError, failures: 10, wantCalls: 3, wantErr: true},
		{name: "bad request is not retried", status: http.StatusBadRequest, failures: 10, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if calls.Add(1) <= tt.failures {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(tt.status)
					_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: http.StatusText(tt.status), Message: "try later"})
					return
				}
				_ = json.NewEncoder(w).Encode(api.ChangesResponse{})
			})

			_, err := client.FetchChanges(t.Context(), crdt.ChangeNumber{}, 0)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "try later", statusErr.Message)
		})
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient("gone", url, testIdentity(), setupTestLogger(), WithRetry(1, time.Millisecond))
	_, err := client.FetchChanges(t.Context(), crdt.ChangeNumber{}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch changes from gone")
}
