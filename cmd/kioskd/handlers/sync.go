// Package handlers provides the REST API handlers for the kiosk sync daemon.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/logging"
	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/queue"
	"github.com/kimhsiao/kiosksync/internal/telemetry"
)

// SyncService is the queue manager surface exposed over HTTP.
type SyncService interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (string, error)
	SyncAll(ctx context.Context) queue.SyncOutcome
	ForceSync(ctx context.Context) (*models.SyncResult, error)
	QueueStatus() models.QueueStatus
	Items() []models.QueueItem
	RemoveQueueItem(ctx context.Context, id string) bool
	ClearQueue(ctx context.Context) int
	CheckOnlineStatus() bool
	LastSyncStatus(ctx context.Context) *models.LastSyncStatus
	ListAbandoned(ctx context.Context, limit int) ([]models.AbandonedItem, error)
	ClearAbandoned(ctx context.Context) (int, error)
}

// MetricsSource supplies local sync counters.
type MetricsSource interface {
	Snapshot() telemetry.Snapshot
}

// ConnectivitySetter accepts platform-pushed connectivity.
// SetOnline reports false when reachability is probed rather than pushed.
type ConnectivitySetter interface {
	SetOnline(ctx context.Context, online bool) bool
}

// SyncHandler handles sync queue operations.
type SyncHandler struct {
	sync         SyncService
	metrics      MetricsSource
	connectivity ConnectivitySetter
}

// NewSyncHandler creates a new SyncHandler. metrics and connectivity may be nil.
func NewSyncHandler(svc SyncService, metrics MetricsSource, connectivity ConnectivitySetter) *SyncHandler {
	return &SyncHandler{
		sync:         svc,
		metrics:      metrics,
		connectivity: connectivity,
	}
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Register mounts the sync routes on r.
func (h *SyncHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/sync").Subrouter()
	api.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/items", h.ListItems).Methods(http.MethodGet)
	api.HandleFunc("/items", h.ClearQueue).Methods(http.MethodDelete)
	api.HandleFunc("/items/{id}", h.RemoveItem).Methods(http.MethodDelete)
	api.HandleFunc("/enqueue", h.Enqueue).Methods(http.MethodPost)
	api.HandleFunc("/run", h.RunSync).Methods(http.MethodPost)
	api.HandleFunc("/force", h.ForceSync).Methods(http.MethodPost)
	api.HandleFunc("/last", h.GetLastSync).Methods(http.MethodGet)
	api.HandleFunc("/abandoned", h.ListAbandoned).Methods(http.MethodGet)
	api.HandleFunc("/abandoned", h.ClearAbandoned).Methods(http.MethodDelete)
	api.HandleFunc("/metrics", h.GetMetrics).Methods(http.MethodGet)
	api.HandleFunc("/online", h.SetOnline).Methods(http.MethodPost)
}

// NewRouter builds the API router. ws, when non-nil, is served at /ws.
func NewRouter(h *SyncHandler, ws http.Handler) *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	if ws != nil {
		r.Handle("/ws", ws)
	}
	r.Use(logRequests)
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Debug("api request", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		next.ServeHTTP(w, r)
	})
}

// Health handles GET /api/health
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "kiosksync",
	})
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.StatusReport{
		Online:   h.sync.CheckOnlineStatus(),
		Queue:    h.sync.QueueStatus(),
		LastSync: h.sync.LastSyncStatus(r.Context()),
	})
}

// ListItems handles GET /api/sync/items
func (h *SyncHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.Items())
}

// Enqueue handles POST /api/sync/enqueue
func (h *SyncHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.ErrInvalid, "Invalid request body")
		return
	}

	id, err := h.sync.Enqueue(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// RunSync handles POST /api/sync/run
// A rejected drain answers 409 with the outcome as body.
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	out := h.sync.SyncAll(r.Context())
	status := http.StatusOK
	if !out.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

// ForceSync handles POST /api/sync/force
func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.ForceSync(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RemoveItem handles DELETE /api/sync/items/{id}
func (h *SyncHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.sync.RemoveQueueItem(r.Context(), id) {
		writeError(w, http.StatusNotFound, errors.ErrNotFound, "queue item not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": true, "id": id})
}

// ClearQueue handles DELETE /api/sync/items
func (h *SyncHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	n := h.sync.ClearQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// GetLastSync handles GET /api/sync/last
func (h *SyncHandler) GetLastSync(w http.ResponseWriter, r *http.Request) {
	last := h.sync.LastSyncStatus(r.Context())
	if last == nil {
		writeError(w, http.StatusNotFound, errors.ErrNotFound, "no sync has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// ListAbandoned handles GET /api/sync/abandoned?limit=N
func (h *SyncHandler) ListAbandoned(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.ErrInvalid, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	items, err := h.sync.ListAbandoned(r.Context(), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ClearAbandoned handles DELETE /api/sync/abandoned
func (h *SyncHandler) ClearAbandoned(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.ClearAbandoned(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// GetMetrics handles GET /api/sync/metrics
func (h *SyncHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, errors.ErrNotFound, "metrics are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// SetOnline handles POST /api/sync/online
// Accepted only when the daemon runs in manual reachability mode.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, errors.ErrInvalid, "online is required")
		return
	}
	if h.connectivity == nil || !h.connectivity.SetOnline(r.Context(), *req.Online) {
		writeError(w, http.StatusConflict, errors.ErrInvalid, "connectivity is probed, not pushed; set reachability.mode=manual")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.sync.CheckOnlineStatus()})
}

// statusFor maps error codes onto HTTP statuses.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalid, errors.ErrValidation, errors.ErrUnknownOperation:
		return http.StatusBadRequest
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrSyncOffline:
		return http.StatusServiceUnavailable
	case errors.ErrSyncInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("api request failed", string(code), err)
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code errors.ErrorCode, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
