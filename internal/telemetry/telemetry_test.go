// Package telemetry tests verify local counter aggregation.
package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/events"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(250 * time.Millisecond)
	return t
}

// TestCollector_drainCounters verifies drain results accumulate.
func TestCollector_drainCounters(t *testing.T) {
	clk := &stepClock{now: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)}
	c := newCollector(clk.Now)

	for i := 0; i < 2; i++ {
		c.Observe(events.SyncStarted())
		c.Observe(events.SyncCompleted(&models.SyncResult{Total: 3, Succeeded: 2, Failed: 1}))
	}

	s := c.Snapshot()
	if s.Drains != 2 {
		t.Errorf("Drains = %d, want 2", s.Drains)
	}
	if s.Attempted != 6 || s.Delivered != 4 || s.Failed != 2 {
		t.Errorf("Attempted/Delivered/Failed = %d/%d/%d, want 6/4/2", s.Attempted, s.Delivered, s.Failed)
	}
	if s.LastDrainAt == nil {
		t.Fatal("LastDrainAt should be set")
	}
	if s.LastDrainDuration != "250ms" {
		t.Errorf("LastDrainDuration = %q, want 250ms", s.LastDrainDuration)
	}
}

// TestCollector_connectivityFlips verifies only changes are counted.
func TestCollector_connectivityFlips(t *testing.T) {
	c := NewCollector()

	for _, online := range []bool{true, true, false, true, true} {
		c.Observe(events.OnlineChanged(online))
	}

	s := c.Snapshot()
	if s.ConnectivityFlips != 2 {
		t.Errorf("ConnectivityFlips = %d, want 2", s.ConnectivityFlips)
	}
	if s.Online == nil || !*s.Online {
		t.Errorf("Online = %v, want true", s.Online)
	}
}

// TestCollector_abandoned verifies abandoned items are counted.
func TestCollector_abandoned(t *testing.T) {
	c := NewCollector()
	c.Observe(events.ItemAbandoned(&models.AbandonedItem{Reason: models.AbandonMaxRetries}))
	c.Observe(events.ItemAbandoned(&models.AbandonedItem{Reason: models.AbandonRejected}))

	if got := c.Snapshot().Abandoned; got != 2 {
		t.Errorf("Abandoned = %d, want 2", got)
	}
}

// TestCollector_completedWithoutResults verifies a nil result is tolerated.
func TestCollector_completedWithoutResults(t *testing.T) {
	c := NewCollector()
	c.Observe(events.SyncCompleted(nil))

	s := c.Snapshot()
	if s.Drains != 1 || s.Attempted != 0 {
		t.Errorf("Drains/Attempted = %d/%d, want 1/0", s.Drains, s.Attempted)
	}
	if s.LastDrainDuration != "" {
		t.Errorf("LastDrainDuration = %q, want empty without a start event", s.LastDrainDuration)
	}
}

// TestCollector_snapshotIsCopy verifies callers cannot mutate counters.
func TestCollector_snapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.Observe(events.OnlineChanged(false))

	s := c.Snapshot()
	*s.Online = true

	if *c.Snapshot().Online {
		t.Error("mutating a snapshot should not affect the collector")
	}
}

// TestCollector_Reset verifies counters are zeroed and connectivity kept.
func TestCollector_Reset(t *testing.T) {
	c := NewCollector()
	c.Observe(events.OnlineChanged(true))
	c.Observe(events.SyncCompleted(&models.SyncResult{Total: 1, Succeeded: 1}))

	c.Reset()

	s := c.Snapshot()
	if s.Drains != 0 || s.Delivered != 0 {
		t.Errorf("counters not reset: %+v", s)
	}
	if s.Online == nil || !*s.Online {
		t.Error("Reset should keep the last known connectivity")
	}
}

// TestCollector_concurrentObserve verifies Observe is safe for concurrent use.
func TestCollector_concurrentObserve(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Observe(events.SyncCompleted(&models.SyncResult{Total: 1, Succeeded: 1}))
		}()
	}
	wg.Wait()

	if got := c.Snapshot().Delivered; got != 20 {
		t.Errorf("Delivered = %d, want 20", got)
	}
}

// TestGetTransmittedRequestCount verifies nothing leaves the device.
func TestGetTransmittedRequestCount(t *testing.T) {
	if got := GetTransmittedRequestCount(); got != 0 {
		t.Errorf("GetTransmittedRequestCount() = %d, want 0", got)
	}
}
