// Package scheduler provides periodic background draining of the sync queue.
//
// Reconnect and enqueue already trigger drains; the scheduler covers items
// that failed while the kiosk stayed online.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/kiosksync/internal/logging"
	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/queue"
)

// Drainer is the part of the queue manager the scheduler drives.
type Drainer interface {
	SyncAll(ctx context.Context) queue.SyncOutcome
	CheckOnlineStatus() bool
	QueueStatus() models.QueueStatus
}

// Scheduler runs periodic drains while online.
type Scheduler struct {
	drainer      Drainer
	syncInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	lastSyncTime time.Time
	lastOutcome  *queue.SyncOutcome
	runs         int
	syncInFlight bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to drain when online; 0 disables the loop
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(drainer Drainer, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	return &Scheduler{
		drainer:      drainer,
		syncInterval: config.SyncInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start starts the periodic loop. It does nothing when the interval is zero
// or the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	if s.syncInterval <= 0 {
		logging.Debug("Periodic sync disabled")
		return
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval": s.syncInterval.String(),
	})
}

// Stop stops the scheduler and waits for an in-flight drain to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped")
}

// periodicSyncLoop drains on each tick when online and work is queued.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.drainer.CheckOnlineStatus() {
				continue
			}
			if s.drainer.QueueStatus().Total == 0 {
				continue
			}
			s.runSync(ctx, "periodic")
		}
	}
}

// runSync executes one drain and records its outcome.
func (s *Scheduler) runSync(ctx context.Context, trigger string) queue.SyncOutcome {
	s.mu.Lock()
	s.syncInFlight = true
	s.mu.Unlock()

	out := s.drainer.SyncAll(ctx)

	s.mu.Lock()
	s.syncInFlight = false
	s.lastOutcome = &out
	if out.Success {
		s.lastSyncTime = time.Now()
		s.runs++
	}
	s.mu.Unlock()

	if !out.Success {
		logging.Debug("Scheduled sync skipped", map[string]interface{}{
			"trigger": trigger,
			"reason":  string(out.Reason),
		})
		return out
	}

	logging.Info("Scheduled sync completed", map[string]interface{}{
		"trigger":   trigger,
		"total":     out.Results.Total,
		"succeeded": out.Results.Succeeded,
		"failed":    out.Results.Failed,
	})
	return out
}

// TriggerSync starts a drain in the background.
// Returns true if it was started, false if offline or a drain is in flight.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.drainer.CheckOnlineStatus() || s.drainer.QueueStatus().Syncing {
		return false
	}

	s.mu.Lock()
	if s.syncInFlight {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx, "trigger")
	}()
	return true
}

// SyncNow drains immediately and waits for the outcome.
func (s *Scheduler) SyncNow(ctx context.Context) queue.SyncOutcome {
	return s.runSync(ctx, "manual")
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool               `json:"isRunning"`
	IsOnline       bool               `json:"isOnline"`
	Interval       string             `json:"interval"`
	LastSyncTime   *time.Time         `json:"lastSyncTime,omitempty"`
	SyncInProgress bool               `json:"syncInProgress"`
	Runs           int                `json:"runs"`
	PendingItems   int                `json:"pendingItems"`
	LastOutcome    *queue.SyncOutcome `json:"lastOutcome,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	qs := s.drainer.QueueStatus()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.drainer.CheckOnlineStatus(),
		Interval:       s.syncInterval.String(),
		SyncInProgress: s.syncInFlight || qs.Syncing,
		Runs:           s.runs,
		PendingItems:   qs.Total,
		LastOutcome:    s.lastOutcome,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsRunning returns whether the periodic loop is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Wait blocks until triggered drains have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
