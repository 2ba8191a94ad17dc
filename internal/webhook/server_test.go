package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/pkg/models"
)

type fakeTrigger struct {
	fullCalls    int
	mappingCalls []string
	result       models.SyncResult
}

func (f *fakeTrigger) RunFull(ctx context.Context) models.SyncResult {
	f.fullCalls++
	return f.result
}

func (f *fakeTrigger) RunMapping(ctx context.Context, mappingID string) models.SyncResult {
	f.mappingCalls = append(f.mappingCalls, mappingID)
	return f.result
}

type fakeLogReader struct {
	limit   int
	summary models.OperationLogSummary
	err     error
}

func (f *fakeLogReader) LogSummary(ctx context.Context, limit int) (models.OperationLogSummary, error) {
	f.limit = limit
	return f.summary, f.err
}

func newTestServer(adminToken string) (*Server, *fakeTrigger, *fakeLogReader) {
	trigger := &fakeTrigger{result: models.SyncResult{Success: true, IssuesProcessed: 2}}
	logs := &fakeLogReader{summary: models.OperationLogSummary{Total: 1}}
	interactions := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return NewServer(interactions, trigger, logs, adminToken), trigger, logs
}

func doRequest(s *Server, method, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer("")
	rec := doRequest(s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	s, _, _ := newTestServer("")
	rec := doRequest(s, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInteractionsDelegated(t *testing.T) {
	s, _, _ := newTestServer("")
	rec := doRequest(s, http.MethodPost, "/v1/interactions", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestSyncRunsFullPass(t *testing.T) {
	s, trigger, _ := newTestServer("")
	rec := doRequest(s, http.MethodPost, "/v1/sync", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, trigger.fullCalls)
	assert.Empty(t, trigger.mappingCalls)

	var result models.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.IssuesProcessed)
}

func TestSyncRunsSingleMapping(t *testing.T) {
	s, trigger, _ := newTestServer("")
	rec := doRequest(s, http.MethodPost, "/v1/sync?mapping=m1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, trigger.fullCalls)
	assert.Equal(t, []string{"m1"}, trigger.mappingCalls)
}

func TestSyncFailureStillAnswers200(t *testing.T) {
	s, trigger, _ := newTestServer("")
	trigger.result = models.SyncResult{Errors: []string{"mapping m1: rate limited"}}

	rec := doRequest(s, http.MethodPost, "/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, []string{"mapping m1: rate limited"}, result.Errors)
}

func TestBearerAuth(t *testing.T) {
	s, trigger, _ := newTestServer("hunter2")

	assert.Equal(t, http.StatusUnauthorized, doRequest(s, http.MethodPost, "/v1/sync", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(s, http.MethodPost, "/v1/sync", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(s, http.MethodGet, "/v1/operations", "").Code)
	assert.Equal(t, 0, trigger.fullCalls)

	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/sync", "hunter2").Code)
	assert.Equal(t, 1, trigger.fullCalls)

	// Health stays open; interactions carry their own signature check.
	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/health", "").Code)
}

func TestOperationsLimit(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantLimit int
	}{
		{name: "default", target: "/v1/operations", wantCode: http.StatusOK, wantLimit: defaultLogEntries},
		{name: "explicit", target: "/v1/operations?limit=5", wantCode: http.StatusOK, wantLimit: 5},
		{name: "capped", target: "/v1/operations?limit=5000", wantCode: http.StatusOK, wantLimit: maxLogEntries},
		{name: "zero", target: "/v1/operations?limit=0", wantCode: http.StatusOK, wantLimit: 0},
		{name: "negative", target: "/v1/operations?limit=-1", wantCode: http.StatusBadRequest},
		{name: "garbage", target: "/v1/operations?limit=ten", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, logs := newTestServer("")
			rec := doRequest(s, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantLimit, logs.limit)
			}
		})
	}
}

func TestOperationsReadFailure(t *testing.T) {
	s, _, logs := newTestServer("")
	logs.err = errors.New("database locked")

	rec := doRequest(s, http.MethodGet, "/v1/operations", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSyncRejectsGet(t *testing.T) {
	s, trigger, _ := newTestServer("")
	rec := doRequest(s, http.MethodGet, "/v1/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, trigger.fullCalls)
}
