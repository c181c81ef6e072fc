// Package reachability tracks whether the kiosk can reach the internet.
//
// Online means both that a non-loopback network link is up and that a probe
// request to a known URL succeeds. A Monitor probes once on start, then
// re-probes whenever its Notifier signals a possible connectivity change and
// reports only actual transitions.
package reachability

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Prober determines the current connectivity. An error means the probe
// could not be attempted at all (misconfiguration), not that the network
// is unreachable.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// HTTPProber checks for an active link and then issues a GET to URL.
// Any 2xx response counts as reachable.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	// LinkUp reports link-level connectivity; nil uses the host interfaces.
	LinkUp func() bool
}

// NewHTTPProber creates an HTTPProber for probeURL.
func NewHTTPProber(probeURL string, timeout time.Duration) (*HTTPProber, error) {
	u, err := url.Parse(probeURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid probe url %q", probeURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		URL:     probeURL,
		Timeout: timeout,
		Client:  &http.Client{},
	}, nil
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) (bool, error) {
	linkUp := p.LinkUp
	if linkUp == nil {
		linkUp = InterfacesUp
	}
	if !linkUp() {
		return false, nil
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// InterfacesUp reports whether any non-loopback interface is up and has an address.
func InterfacesUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// Manual holds connectivity pushed by the host platform. It is both the
// Prober and the Notifier of a Monitor.
type Manual struct {
	mu      sync.Mutex
	online  bool
	changes chan struct{}
}

// NewManual creates a Manual source with an initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online:  online,
		changes: make(chan struct{}, 1),
	}
}

// SetOnline records the platform-reported state and signals a change.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
	signal(m.changes)
}

// Probe implements Prober.
func (m *Manual) Probe(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, nil
}

// Changes implements Notifier.
func (m *Manual) Changes() <-chan struct{} {
	return m.changes
}

// Close implements Notifier.
func (m *Manual) Close() error {
	return nil
}

// signal performs a non-blocking send; a pending signal already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
