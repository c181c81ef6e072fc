// Package handlers tests for the sync REST API endpoints.
// These tests verify routing, status codes and response bodies against a
// fully wired in-memory sync core.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/kiosksync/internal/app"
	"github.com/kimhsiao/kiosksync/internal/config"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/queue"
	"github.com/kimhsiao/kiosksync/internal/telemetry"
)

// setupRouter starts an in-memory app with manual reachability.
func setupRouter(t *testing.T, online bool) (http.Handler, *app.App) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	cfg.Reachability.Mode = config.ReachabilityManual
	cfg.Sync.BaseURL = backend.URL

	a, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.SetOnline(context.Background(), online)
	a.Start(context.Background())

	return NewRouter(NewSyncHandler(a.Manager, a.Telemetry, a), nil), a
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func checkIn(userID string) models.EnqueueRequest {
	return models.EnqueueRequest{
		Type: "attendance",
		Data: json.RawMessage(`{"userId":"` + userID + `","eventType":"check_in"}`),
		URL:  "/api/attendance",
	}
}

func TestHealth(t *testing.T) {
	h, _ := setupRouter(t, true)

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "kiosksync", decode[map[string]string](t, rec)["service"])
}

func TestSyncHandler_enqueueOffline(t *testing.T) {
	h, _ := setupRouter(t, false)

	rec := do(t, h, http.MethodPost, "/api/sync/enqueue", checkIn("U1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["id"]
	assert.NotEmpty(t, id)

	rec = do(t, h, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.StatusReport](t, rec)
	assert.False(t, status.Online)
	assert.Equal(t, models.QueueStatus{Total: 1, Pending: 1}, status.Queue)
	assert.Nil(t, status.LastSync)

	rec = do(t, h, http.MethodGet, "/api/sync/items", nil)
	items := decode[[]models.QueueItem](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "POST", items[0].Method)
}

func TestSyncHandler_enqueueInvalid(t *testing.T) {
	h, _ := setupRouter(t, false)

	tests := []struct {
		name     string
		body     interface{}
		wantCode string
	}{
		{"malformed body", "{not json", "INVALID_INPUT"},
		{"missing url", models.EnqueueRequest{Type: "attendance", Data: json.RawMessage(`{"userId":"U1"}`)}, "INVALID_INPUT"},
		{"missing type", models.EnqueueRequest{URL: "/x"}, "INVALID_INPUT"},
		{"invalid payload", models.EnqueueRequest{
			Type: "attendance",
			Data: json.RawMessage(`{"userId":"U1","eventType":"lunch"}`),
			URL:  "/api/attendance",
		}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/sync/enqueue", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestSyncHandler_runSyncOffline(t *testing.T) {
	h, _ := setupRouter(t, false)

	rec := do(t, h, http.MethodPost, "/api/sync/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	out := decode[queue.SyncOutcome](t, rec)
	assert.False(t, out.Success)
	assert.Equal(t, queue.ReasonOffline, out.Reason)
}

func TestSyncHandler_forceSync(t *testing.T) {
	t.Run("offline", func(t *testing.T) {
		h, _ := setupRouter(t, false)
		rec := do(t, h, http.MethodPost, "/api/sync/force", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SYNC_OFFLINE", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("online empty queue", func(t *testing.T) {
		h, _ := setupRouter(t, true)

		rec := do(t, h, http.MethodGet, "/api/sync/last", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, h, http.MethodPost, "/api/sync/force", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decode[models.SyncResult](t, rec)
		assert.Equal(t, 0, result.Total)

		rec = do(t, h, http.MethodGet, "/api/sync/last", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSyncHandler_removeAndClear(t *testing.T) {
	h, a := setupRouter(t, false)

	id, err := a.Manager.Enqueue(context.Background(), checkIn("U1"))
	require.NoError(t, err)
	_, err = a.Manager.Enqueue(context.Background(), checkIn("U2"))
	require.NoError(t, err)

	rec := do(t, h, http.MethodDelete, "/api/sync/items/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/sync/items/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodDelete, "/api/sync/items", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["cleared"])
	assert.Equal(t, 0, a.Manager.QueueStatus().Total)
}

func TestSyncHandler_abandoned(t *testing.T) {
	h, _ := setupRouter(t, false)

	rec := do(t, h, http.MethodGet, "/api/sync/abandoned?limit=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.AbandonedItem](t, rec))

	rec = do(t, h, http.MethodGet, "/api/sync/abandoned?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/sync/abandoned", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[map[string]int](t, rec)["cleared"])
}

func TestSyncHandler_metrics(t *testing.T) {
	h, _ := setupRouter(t, true)

	rec := do(t, h, http.MethodPost, "/api/sync/force", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sync/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[telemetry.Snapshot](t, rec).Drains)

	noMetrics := NewRouter(NewSyncHandler(nil, nil, nil), nil)
	rec = do(t, noMetrics, http.MethodGet, "/api/sync/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncHandler_setOnline(t *testing.T) {
	h, a := setupRouter(t, false)

	rec := do(t, h, http.MethodPost, "/api/sync/online", map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[map[string]bool](t, rec)["online"])
	assert.True(t, a.Manager.CheckOnlineStatus())

	rec = do(t, h, http.MethodPost, "/api/sync/online", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	probed := NewRouter(NewSyncHandler(a.Manager, nil, nil), nil)
	rec = do(t, probed, http.MethodPost, "/api/sync/online", map[string]bool{"online": false})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncHandler_methodNotAllowed(t *testing.T) {
	h, _ := setupRouter(t, true)

	rec := do(t, h, http.MethodGet, "/api/sync/run", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"INVALID_INPUT", http.StatusBadRequest},
		{"VALIDATION_ERROR", http.StatusBadRequest},
		{"NOT_FOUND", http.StatusNotFound},
		{"SYNC_OFFLINE", http.StatusServiceUnavailable},
		{"SYNC_IN_PROGRESS", http.StatusConflict},
		{"STORAGE_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(errors.ErrorCode(tt.code)))
		})
	}
}
