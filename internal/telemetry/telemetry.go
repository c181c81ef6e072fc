// Package telemetry keeps local sync counters for the kiosk operator.
//
// Counters live in process memory and are exposed only through the local
// control API. Nothing is transmitted off the device.
package telemetry

import (
	"sync"
	"time"

	"github.com/kimhsiao/kiosksync/internal/sync/events"
)

// =====================================================
// Counters
// =====================================================

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Drains            int        `json:"drains" yaml:"drains"`
	Attempted         int        `json:"attempted" yaml:"attempted"`
	Delivered         int        `json:"delivered" yaml:"delivered"`
	Failed            int        `json:"failed" yaml:"failed"`
	Abandoned         int        `json:"abandoned" yaml:"abandoned"`
	ConnectivityFlips int        `json:"connectivityFlips" yaml:"connectivity_flips"`
	Online            *bool      `json:"online,omitempty" yaml:"online,omitempty"`
	LastDrainAt       *time.Time `json:"lastDrainAt,omitempty" yaml:"last_drain_at,omitempty"`
	LastDrainDuration string     `json:"lastDrainDuration,omitempty" yaml:"last_drain_duration,omitempty"`
	Since             time.Time  `json:"since" yaml:"since"`
}

// Collector aggregates sync events into counters.
type Collector struct {
	mu         sync.Mutex
	now        func() time.Time
	snap       Snapshot
	drainStart time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return newCollector(time.Now)
}

func newCollector(now func() time.Time) *Collector {
	return &Collector{now: now, snap: Snapshot{Since: now()}}
}

// Observe folds one event into the counters. It is shaped to be passed
// directly to a Subscribe call.
func (c *Collector) Observe(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case events.KindOnline:
		if e.Online == nil {
			return
		}
		if c.snap.Online != nil && *c.snap.Online != *e.Online {
			c.snap.ConnectivityFlips++
		}
		online := *e.Online
		c.snap.Online = &online

	case events.KindSyncStarted:
		c.drainStart = c.now()

	case events.KindSyncCompleted:
		c.snap.Drains++
		end := c.now()
		c.snap.LastDrainAt = &end
		if !c.drainStart.IsZero() {
			c.snap.LastDrainDuration = end.Sub(c.drainStart).String()
			c.drainStart = time.Time{}
		}
		if e.Results != nil {
			c.snap.Attempted += e.Results.Total
			c.snap.Delivered += e.Results.Succeeded
			c.snap.Failed += e.Results.Failed
		}

	case events.KindItemAbandoned:
		c.snap.Abandoned++
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snap
	if s.Online != nil {
		v := *s.Online
		s.Online = &v
	}
	if s.LastDrainAt != nil {
		t := *s.LastDrainAt
		s.LastDrainAt = &t
	}
	return s
}

// Reset zeroes the counters, keeping the last known connectivity.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	online := c.snap.Online
	c.snap = Snapshot{Since: c.now(), Online: online}
	c.drainStart = time.Time{}
}

// =====================================================
// Privacy Controls
// =====================================================

// GetTransmittedRequestCount returns the count of requests made by this
// package (always 0).
func GetTransmittedRequestCount() int64 {
	return 0
}
