// Package queue provides the offline sync queue manager.
//
// The Manager buffers operations that could not reach the server, persists
// them after every mutation, and drains them when the kiosk is online. At
// most one drain runs at a time; a concurrent request is rejected rather
// than queued.
package queue

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/kimhsiao/kiosksync/internal/clock"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/logging"
	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/delivery"
	"github.com/kimhsiao/kiosksync/internal/sync/events"
	"github.com/kimhsiao/kiosksync/internal/sync/operation"
	"github.com/kimhsiao/kiosksync/internal/sync/store"
	"github.com/kimhsiao/kiosksync/internal/uuid"
)

// DefaultMaxRetries is the delivery attempt budget per item.
const DefaultMaxRetries = 3

// RejectReason explains why a drain request performed no work.
type RejectReason string

const (
	ReasonOffline        RejectReason = "offline"
	ReasonSyncInProgress RejectReason = "sync_in_progress"
)

// SyncOutcome is the non-throwing result of SyncAll.
type SyncOutcome struct {
	Success bool               `json:"success"`
	Reason  RejectReason       `json:"reason,omitempty"`
	Results *models.SyncResult `json:"results,omitempty"`
}

// QueueStore persists the queue and the last drain summary.
type QueueStore interface {
	LoadQueue(ctx context.Context) ([]*models.QueueItem, error)
	SaveQueue(ctx context.Context, items []*models.QueueItem) error
	LoadLastSync(ctx context.Context) (*models.LastSyncStatus, error)
	SaveLastSync(ctx context.Context, status models.LastSyncStatus) error
}

// Reachability reports connectivity and its transitions.
type Reachability interface {
	Start(ctx context.Context) (bool, error)
	Subscribe(fn func(online bool)) func()
}

// Config holds the retry policy.
type Config struct {
	MaxRetries int
	// RetryClientErrors keeps retrying 4xx responses like any other failure.
	// When false, a non-retryable failure abandons the item at once.
	RetryClientErrors bool
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        DefaultMaxRetries,
		RetryClientErrors: true,
	}
}

// Deps are the Manager's collaborators. Store and Deliverer are required.
type Deps struct {
	Store        QueueStore
	Deliverer    delivery.Deliverer
	Reachability Reachability
	Abandoned    store.AbandonedSink
	Registry     *operation.Registry
	Clock        clock.Clock
}

// Manager owns the in-memory queue and the Idle/Draining state.
type Manager struct {
	cfg  Config
	deps Deps
	bus  *events.Bus[events.Event]

	mu          sync.Mutex
	queue       []*models.QueueItem
	online      bool
	draining    bool
	initialized bool
	closed      bool
	// transitions counts connectivity changes received from reachability.
	transitions uint64
	unsubscribe func()

	// persistMu serialises slot writes so the last writer stores the latest state.
	persistMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. Call Initialize before use and Shutdown when done.
func NewManager(deps Deps, cfg Config) *Manager {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		bus:    events.NewBus[events.Event](),
		queue:  []*models.QueueItem{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize loads the persisted queue, subscribes to reachability and
// performs the initial probe. It returns the resulting online flag. Errors
// are logged; a failed probe reports online.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.mu.Lock()
	if m.initialized {
		online := m.online
		m.mu.Unlock()
		logging.Warn("sync manager already initialized")
		return online
	}
	m.initialized = true
	m.mu.Unlock()

	items, err := m.deps.Store.LoadQueue(ctx)
	if err != nil {
		logging.ErrorWithCode("failed to load persisted queue", string(errors.CodeOf(err)), err)
	}

	var kept []*models.QueueItem
	var exhausted []*models.QueueItem
	for _, item := range items {
		if item.RetryCount >= m.cfg.MaxRetries {
			exhausted = append(exhausted, item)
			continue
		}
		kept = append(kept, item)
	}
	if kept == nil {
		kept = []*models.QueueItem{}
	}

	m.mu.Lock()
	m.queue = kept
	m.mu.Unlock()

	if len(exhausted) > 0 {
		m.persistQueue(ctx)
		for _, item := range exhausted {
			m.abandon(ctx, item, models.AbandonMaxRetries)
		}
	}

	m.mu.Lock()
	seen := m.transitions
	m.mu.Unlock()

	online := true
	if m.deps.Reachability != nil {
		unsubscribe := m.deps.Reachability.Subscribe(m.handleConnectivity)
		m.mu.Lock()
		m.unsubscribe = unsubscribe
		m.mu.Unlock()

		online, err = m.deps.Reachability.Start(ctx)
		if err != nil {
			logging.Warn("initial reachability probe failed, assuming online", map[string]interface{}{
				"error": err.Error(),
			})
			online = true
		}
	}

	m.mu.Lock()
	// a transition delivered while probing is newer than the probe result
	if m.transitions == seen {
		m.online = online
	} else {
		online = m.online
	}
	m.mu.Unlock()

	logging.Info("sync manager initialized", map[string]interface{}{
		"online":    online,
		"queued":    len(kept),
		"abandoned": len(exhausted),
	})
	return online
}

// handleConnectivity receives reachability transitions. Regaining
// connectivity starts a background drain.
func (m *Manager) handleConnectivity(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.transitions++
	m.mu.Unlock()

	m.bus.Notify(events.OnlineChanged(online))

	if online && !wasOnline {
		m.drainInBackground("reconnect")
	}
}

// drainInBackground runs SyncAll on the manager's lifetime context.
func (m *Manager) drainInBackground(trigger string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		out := m.SyncAll(m.ctx)
		logging.Debug("background drain finished", map[string]interface{}{
			"trigger": trigger,
			"success": out.Success,
			"reason":  string(out.Reason),
		})
	}()
}

// TriggerSync starts a drain in the background and returns immediately.
func (m *Manager) TriggerSync() {
	m.drainInBackground("trigger")
}

// Enqueue buffers an operation and returns its id. Payloads of registered
// kinds are validated; other kinds are stored as given. When online a
// best-effort drain is started in the background.
func (m *Manager) Enqueue(ctx context.Context, req models.EnqueueRequest) (string, error) {
	if req.Type == "" {
		return "", errors.New(errors.ErrInvalid, "operation type is required")
	}
	if req.URL == "" {
		return "", errors.New(errors.ErrInvalid, "target url is required")
	}
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		return "", errors.New(errors.ErrInvalid, "payload must be valid JSON")
	}
	if m.deps.Registry != nil && m.deps.Registry.Known(req.Type) {
		if _, err := m.deps.Registry.Decode(req.Type, req.Data); err != nil {
			return "", err
		}
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = models.DefaultMethod
	}

	now := m.deps.Clock.Now()
	item := &models.QueueItem{
		ID:        uuid.NewQueueID(now),
		Timestamp: now.UTC(),
		Type:      req.Type,
		Data:      req.Data,
		URL:       req.URL,
		Method:    method,
		Status:    models.StatusPending,
	}

	m.mu.Lock()
	m.queue = append(m.queue, item)
	online := m.online
	m.mu.Unlock()

	m.persistQueue(ctx)

	logging.Info("operation queued", map[string]interface{}{
		"item_id":   item.ID,
		"operation": item.Type,
		"online":    online,
	})

	if online {
		m.drainInBackground("enqueue")
	}
	return item.ID, nil
}

// SyncAll drains the queue once. It is rejected without side effects when a
// drain is already running or the kiosk is offline.
func (m *Manager) SyncAll(ctx context.Context) SyncOutcome {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return SyncOutcome{Success: false, Reason: ReasonSyncInProgress}
	}
	if !m.online {
		m.mu.Unlock()
		return SyncOutcome{Success: false, Reason: ReasonOffline}
	}
	m.draining = true
	snapshot := make([]*models.QueueItem, 0, len(m.queue))
	for _, item := range m.queue {
		if item.Eligible(m.cfg.MaxRetries) {
			snapshot = append(snapshot, item.Clone())
		}
	}
	m.mu.Unlock()

	m.bus.Notify(events.SyncStarted())
	logging.Info("drain started", map[string]interface{}{"items": len(snapshot)})

	// state changes are persisted even when ctx is cancelled mid-drain
	persistCtx := context.WithoutCancel(ctx)
	result := models.NewSyncResult()
	for _, item := range snapshot {
		if ctx.Err() != nil {
			logging.Warn("drain interrupted", map[string]interface{}{
				"remaining": len(snapshot) - result.Total,
			})
			break
		}
		result.Total++

		err := m.deps.Deliverer.Deliver(ctx, item)
		if err == nil {
			result.Succeeded++
			m.removeDelivered(persistCtx, item.ID)
			continue
		}

		result.Failed++
		result.Errors = append(result.Errors, models.SyncError{
			ID:        item.ID,
			Operation: item.Type,
			Error:     err.Error(),
		})
		if ctx.Err() != nil {
			// cancelled mid-request; the attempt is not charged to the item
			continue
		}
		m.recordFailure(persistCtx, item.ID, err)
	}

	m.saveLastSync(persistCtx, result)

	m.mu.Lock()
	m.draining = false
	m.mu.Unlock()

	logging.Info("drain completed", map[string]interface{}{
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	m.bus.Notify(events.SyncCompleted(result))

	return SyncOutcome{Success: true, Results: result}
}

// ForceSync is SyncAll for explicit user actions: a rejection is returned as
// an error carrying SYNC_OFFLINE or SYNC_IN_PROGRESS.
func (m *Manager) ForceSync(ctx context.Context) (*models.SyncResult, error) {
	out := m.SyncAll(ctx)
	if out.Success {
		return out.Results, nil
	}
	switch out.Reason {
	case ReasonOffline:
		return nil, errors.New(errors.ErrSyncOffline, "cannot sync while offline")
	case ReasonSyncInProgress:
		return nil, errors.New(errors.ErrSyncInProgress, "a sync is already in progress")
	}
	return nil, errors.New(errors.ErrSyncFailed, string(out.Reason))
}

// removeDelivered drops a delivered item from the live queue.
func (m *Manager) removeDelivered(ctx context.Context, id string) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx >= 0 {
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	}
	m.mu.Unlock()

	if idx >= 0 {
		m.persistQueue(ctx)
	}
}

// recordFailure charges a failed attempt to the live item and evicts it
// when its budget is spent or the failure is permanent under the policy.
func (m *Manager) recordFailure(ctx context.Context, id string, cause error) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		// removed while the attempt was in flight
		m.mu.Unlock()
		return
	}
	item := m.queue[idx]
	item.RetryCount++
	item.Status = models.StatusFailed
	item.LastError = cause.Error()

	var reason models.AbandonReason
	switch {
	case item.RetryCount >= m.cfg.MaxRetries:
		reason = models.AbandonMaxRetries
	case !m.cfg.RetryClientErrors && !delivery.IsRetryable(cause):
		reason = models.AbandonRejected
	}

	var evicted *models.QueueItem
	if reason != "" {
		evicted = item.Clone()
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	}
	retryCount := item.RetryCount
	m.mu.Unlock()

	m.persistQueue(ctx)

	if evicted != nil {
		m.abandon(ctx, evicted, reason)
		return
	}
	logging.Warn("delivery failed, will retry", map[string]interface{}{
		"item_id":     id,
		"error_code":  string(delivery.Code(cause)),
		"retry_count": retryCount,
		"max_retries": m.cfg.MaxRetries,
		"error":       cause.Error(),
	})
}

// abandon records an evicted item in the dead-letter sink and announces it.
func (m *Manager) abandon(ctx context.Context, item *models.QueueItem, reason models.AbandonReason) {
	rec := &models.AbandonedItem{
		Item:        *item,
		Reason:      reason,
		AbandonedAt: m.deps.Clock.Now().UTC(),
	}

	logging.Warn("queue item abandoned", map[string]interface{}{
		"item_id":     item.ID,
		"operation":   item.Type,
		"reason":      string(reason),
		"retry_count": item.RetryCount,
		"last_error":  item.LastError,
	})

	if m.deps.Abandoned != nil {
		if err := m.deps.Abandoned.Abandon(context.WithoutCancel(ctx), *rec); err != nil {
			logging.ErrorWithCode("failed to record abandoned item", string(errors.CodeOf(err)), err, map[string]interface{}{
				"item_id": item.ID,
			})
		}
	}
	m.bus.Notify(events.ItemAbandoned(rec))
}

// indexOf returns the position of id in the live queue or -1. Caller holds mu.
func (m *Manager) indexOf(id string) int {
	for i, item := range m.queue {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// persistQueue writes the current queue. Failures are logged.
func (m *Manager) persistQueue(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	snapshot := make([]*models.QueueItem, len(m.queue))
	for i, item := range m.queue {
		snapshot[i] = item.Clone()
	}
	m.mu.Unlock()

	if err := m.deps.Store.SaveQueue(context.WithoutCancel(ctx), snapshot); err != nil {
		logging.ErrorWithCode("failed to persist queue", string(errors.CodeOf(err)), err, map[string]interface{}{
			"items": len(snapshot),
		})
	}
}

func (m *Manager) saveLastSync(ctx context.Context, result *models.SyncResult) {
	status := models.LastSyncStatus{
		Timestamp: m.deps.Clock.Now().UTC(),
		Results:   *result,
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.deps.Store.SaveLastSync(context.WithoutCancel(ctx), status); err != nil {
		logging.ErrorWithCode("failed to persist last sync status", string(errors.CodeOf(err)), err)
	}
}

// QueueStatus returns counts computed from the live queue.
func (m *Manager) QueueStatus() models.QueueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := models.QueueStatus{
		Total:   len(m.queue),
		Syncing: m.draining,
	}
	for _, item := range m.queue {
		switch item.Status {
		case models.StatusPending:
			status.Pending++
		case models.StatusFailed:
			status.Failed++
		}
	}
	return status
}

// Items returns a copy of the live queue in order.
func (m *Manager) Items() []models.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]models.QueueItem, len(m.queue))
	for i, item := range m.queue {
		items[i] = *item.Clone()
	}
	return items
}

// RemoveQueueItem deletes one item without delivering it and reports
// whether it was present.
func (m *Manager) RemoveQueueItem(ctx context.Context, id string) bool {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx >= 0 {
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	}
	m.mu.Unlock()

	if idx < 0 {
		return false
	}
	m.persistQueue(ctx)
	logging.Info("queue item removed", map[string]interface{}{"item_id": id})
	return true
}

// ClearQueue deletes every item without delivering and returns how many were removed.
func (m *Manager) ClearQueue(ctx context.Context) int {
	m.mu.Lock()
	n := len(m.queue)
	m.queue = []*models.QueueItem{}
	m.mu.Unlock()

	m.persistQueue(ctx)
	logging.Info("queue cleared", map[string]interface{}{"removed": n})
	return n
}

// CheckOnlineStatus returns the last known connectivity without probing.
func (m *Manager) CheckOnlineStatus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastSyncStatus returns the persisted summary of the most recent drain, or nil.
func (m *Manager) LastSyncStatus(ctx context.Context) *models.LastSyncStatus {
	status, err := m.deps.Store.LoadLastSync(ctx)
	if err != nil {
		logging.ErrorWithCode("failed to load last sync status", string(errors.CodeOf(err)), err)
		return nil
	}
	return status
}

// ListAbandoned returns dead-letter records, newest first.
func (m *Manager) ListAbandoned(ctx context.Context, limit int) ([]models.AbandonedItem, error) {
	if m.deps.Abandoned == nil {
		return []models.AbandonedItem{}, nil
	}
	return m.deps.Abandoned.List(ctx, limit)
}

// ClearAbandoned empties the dead-letter sink.
func (m *Manager) ClearAbandoned(ctx context.Context) (int, error) {
	if m.deps.Abandoned == nil {
		return 0, nil
	}
	return m.deps.Abandoned.Clear(ctx)
}

// Subscribe registers a listener for manager events.
func (m *Manager) Subscribe(fn func(events.Event)) func() {
	return m.bus.Subscribe(fn)
}

// Shutdown stops reacting to connectivity, cancels background drains and
// waits for them to return. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.cancel()
	m.wg.Wait()
	logging.Info("sync manager stopped")
}
