package reachability

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kimhsiao/kiosksync/internal/logging"
)

// Notifier signals that connectivity may have changed. Signals carry no
// value; the Monitor re-probes on each one.
type Notifier interface {
	Changes() <-chan struct{}
	Close() error
}

// TickerNotifier signals at a fixed interval.
type TickerNotifier struct {
	ticker  *time.Ticker
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewTickerNotifier starts a TickerNotifier.
func NewTickerNotifier(interval time.Duration) *TickerNotifier {
	n := &TickerNotifier{
		ticker:  time.NewTicker(interval),
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-n.done:
				return
			case <-n.ticker.C:
				signal(n.changes)
			}
		}
	}()
	return n
}

// Changes implements Notifier.
func (n *TickerNotifier) Changes() <-chan struct{} {
	return n.changes
}

// Close implements Notifier.
func (n *TickerNotifier) Close() error {
	n.once.Do(func() {
		n.ticker.Stop()
		close(n.done)
	})
	return nil
}

// FileNotifier signals whenever the platform rewrites a connectivity state
// file. The parent directory is watched so the file may be replaced atomically.
type FileNotifier struct {
	watcher *fsnotify.Watcher
	path    string
	changes chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewFileNotifier starts watching path.
func NewFileNotifier(path string) (*FileNotifier, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	n := &FileNotifier{
		watcher: watcher,
		path:    abs,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	n.wg.Add(1)
	go n.processEvents()
	return n, nil
}

func (n *FileNotifier) processEvents() {
	defer n.wg.Done()

	for {
		select {
		case <-n.done:
			return

		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != n.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				signal(n.changes)
			}

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("connectivity file watcher error", map[string]interface{}{
				"path":  n.path,
				"error": err.Error(),
			})
		}
	}
}

// Changes implements Notifier.
func (n *FileNotifier) Changes() <-chan struct{} {
	return n.changes
}

// Close implements Notifier. It blocks until the event loop exits.
func (n *FileNotifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.watcher.Close()
		n.wg.Wait()
	})
	return err
}

// MultiNotifier merges several notifiers into one.
type MultiNotifier struct {
	sources []Notifier
	changes chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewMultiNotifier fans in the given notifiers. Nil entries are ignored.
func NewMultiNotifier(sources ...Notifier) *MultiNotifier {
	m := &MultiNotifier{
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, src := range sources {
		if src == nil {
			continue
		}
		m.sources = append(m.sources, src)
		m.wg.Add(1)
		go func(ch <-chan struct{}) {
			defer m.wg.Done()
			for {
				select {
				case <-m.done:
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					signal(m.changes)
				}
			}
		}(src.Changes())
	}
	return m
}

// Changes implements Notifier.
func (m *MultiNotifier) Changes() <-chan struct{} {
	return m.changes
}

// Close closes every source and waits for the fan-in goroutines.
func (m *MultiNotifier) Close() error {
	var firstErr error
	m.once.Do(func() {
		close(m.done)
		for _, src := range m.sources {
			if err := src.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		m.wg.Wait()
	})
	return firstErr
}
