// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

// stubDrainer counts drains and reports configurable state.
type stubDrainer struct {
	mu      sync.Mutex
	online  bool
	total   int
	syncing bool
	calls   atomic.Int32
	block   chan struct{}
}

func (d *stubDrainer) SyncAll(ctx context.Context) queue.SyncOutcome {
	d.calls.Add(1)
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online {
		return queue.SyncOutcome{Reason: queue.ReasonOffline}
	}
	res := models.NewSyncResult()
	res.Total = d.total
	res.Succeeded = d.total
	d.total = 0
	return queue.SyncOutcome{Success: true, Results: res}
}

func (d *stubDrainer) CheckOnlineStatus() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

func (d *stubDrainer) QueueStatus() models.QueueStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return models.QueueStatus{Total: d.total, Pending: d.total, Syncing: d.syncing}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// =====================================================
// Configuration Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	if config.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", config.SyncInterval)
	}
}

// TestNewScheduler_nilConfig verifies defaults are applied.
func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(&stubDrainer{}, nil)
	if s.syncInterval != 5*time.Minute {
		t.Errorf("syncInterval = %v, want 5m", s.syncInterval)
	}
}

// =====================================================
// Lifecycle Tests
// =====================================================

// TestStart_disabled verifies a zero interval never starts the loop.
func TestStart_disabled(t *testing.T) {
	s := NewScheduler(&stubDrainer{online: true, total: 1}, &SchedulerConfig{SyncInterval: 0})
	s.Start(context.Background())
	if s.IsRunning() {
		t.Error("scheduler should not run with a zero interval")
	}
	s.Stop()
}

// TestStartStop verifies lifecycle and idempotence.
func TestStartStop(t *testing.T) {
	s := NewScheduler(&stubDrainer{}, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Fatal("scheduler should be running")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}

// TestPeriodicSync_drainsWhenOnlineWithWork verifies the loop drives drains.
func TestPeriodicSync_drainsWhenOnlineWithWork(t *testing.T) {
	d := &stubDrainer{online: true, total: 2}
	s := NewScheduler(d, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return d.calls.Load() >= 1 })
	waitFor(t, func() bool { return s.GetStatus().Runs == 1 })

	status := s.GetStatus()
	if status.LastSyncTime == nil {
		t.Error("LastSyncTime should be set after a drain")
	}
	if status.LastOutcome == nil || status.LastOutcome.Results.Succeeded != 2 {
		t.Errorf("LastOutcome = %+v", status.LastOutcome)
	}

	// queue is now empty: further ticks do not drain
	calls := d.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if d.calls.Load() != calls {
		t.Error("empty queue should not be drained")
	}
}

// TestPeriodicSync_skipsWhenOffline verifies no drains are attempted offline.
func TestPeriodicSync_skipsWhenOffline(t *testing.T) {
	d := &stubDrainer{online: false, total: 3}
	s := NewScheduler(d, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})
	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if n := d.calls.Load(); n != 0 {
		t.Errorf("SyncAll called %d times while offline", n)
	}
}

// TestPeriodicSync_contextCancel verifies the loop exits with its context.
func TestPeriodicSync_contextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(&stubDrainer{}, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
	s.Stop()
}

// =====================================================
// Trigger Tests
// =====================================================

// TestTriggerSync verifies triggered drains respect state.
func TestTriggerSync(t *testing.T) {
	tests := []struct {
		name    string
		drainer *stubDrainer
		want    bool
	}{
		{"online", &stubDrainer{online: true, total: 1}, true},
		{"offline", &stubDrainer{online: false, total: 1}, false},
		{"manager draining", &stubDrainer{online: true, syncing: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(tt.drainer, &SchedulerConfig{})
			if got := s.TriggerSync(context.Background()); got != tt.want {
				t.Errorf("TriggerSync() = %v, want %v", got, tt.want)
			}
			s.Wait()
		})
	}
}

// TestTriggerSync_inFlight verifies a second trigger is refused while one runs.
func TestTriggerSync_inFlight(t *testing.T) {
	d := &stubDrainer{online: true, total: 1, block: make(chan struct{})}
	s := NewScheduler(d, &SchedulerConfig{})

	if !s.TriggerSync(context.Background()) {
		t.Fatal("first trigger should start")
	}
	waitFor(t, func() bool { return d.calls.Load() == 1 })

	if s.TriggerSync(context.Background()) {
		t.Error("second trigger should be refused while in flight")
	}
	if !s.GetStatus().SyncInProgress {
		t.Error("status should report the drain in progress")
	}

	close(d.block)
	s.Wait()
}

// TestSyncNow verifies the synchronous path returns the outcome.
func TestSyncNow(t *testing.T) {
	s := NewScheduler(&stubDrainer{online: false}, &SchedulerConfig{})
	out := s.SyncNow(context.Background())
	if out.Success || out.Reason != queue.ReasonOffline {
		t.Errorf("SyncNow() = %+v, want offline rejection", out)
	}
	if s.GetStatus().LastSyncTime != nil {
		t.Error("a rejected drain should not set LastSyncTime")
	}
}
