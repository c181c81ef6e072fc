package reachability

import (
	"context"
	"sync"

	"github.com/kimhsiao/kiosksync/internal/logging"
	"github.com/kimhsiao/kiosksync/internal/sync/events"
)

// Monitor holds the current online flag and reports transitions.
type Monitor struct {
	prober   Prober
	notifier Notifier
	bus      *events.Bus[bool]

	// refreshMu serialises probe and notify so transitions are emitted in order.
	refreshMu sync.Mutex

	mu      sync.Mutex
	online  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a Monitor. notifier may be nil, in which case the
// state only changes through Refresh.
func NewMonitor(prober Prober, notifier Notifier) *Monitor {
	return &Monitor{
		prober:   prober,
		notifier: notifier,
		bus:      events.NewBus[bool](),
	}
}

// Start performs one synchronous probe, then begins listening for change
// notifications. When the initial probe fails the monitor assumes online
// and returns the error alongside.
func (m *Monitor) Start(ctx context.Context) (bool, error) {
	online, err := m.prober.Probe(ctx)
	if err != nil {
		online = true
	}

	m.mu.Lock()
	m.online = online
	if !m.started && m.notifier != nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go m.loop(loopCtx)
	}
	m.started = true
	m.mu.Unlock()

	return online, err
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	changes := m.notifier.Changes()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			m.Refresh(ctx)
		}
	}
}

// Refresh re-probes and emits a transition if the value changed. Probe
// errors keep the previous value.
func (m *Monitor) Refresh(ctx context.Context) bool {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	online, err := m.prober.Probe(ctx)
	if err != nil {
		logging.Warn("reachability probe failed", map[string]interface{}{"error": err.Error()})
		return m.Online()
	}

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		logging.Info("connectivity changed", map[string]interface{}{"online": online})
		m.bus.Notify(online)
	}
	return online
}

// Online returns the last known value without probing.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for transitions and returns its unsubscribe function.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	return m.bus.Subscribe(fn)
}

// Stop ends the notification loop and closes the notifier.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	m.wg.Wait()
	return m.notifier.Close()
}
