// Package app wires the kiosk sync core from configuration.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/kimhsiao/kiosksync/internal/clock"
	"github.com/kimhsiao/kiosksync/internal/config"
	"github.com/kimhsiao/kiosksync/internal/crypto"
	"github.com/kimhsiao/kiosksync/internal/db"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/logging"
	"github.com/kimhsiao/kiosksync/internal/sync/delivery"
	"github.com/kimhsiao/kiosksync/internal/sync/operation"
	"github.com/kimhsiao/kiosksync/internal/sync/queue"
	"github.com/kimhsiao/kiosksync/internal/sync/reachability"
	"github.com/kimhsiao/kiosksync/internal/sync/scheduler"
	"github.com/kimhsiao/kiosksync/internal/sync/store"
	"github.com/kimhsiao/kiosksync/internal/telemetry"
)

// App owns every long-lived component of the sync core.
type App struct {
	Config    *config.Config
	Manager   *queue.Manager
	Scheduler *scheduler.Scheduler
	Telemetry *telemetry.Collector
	Monitor   *reachability.Monitor

	// Manual is set in manual reachability mode; the host pushes state into it.
	Manual *reachability.Manual

	database *db.DB
	repo     *db.Repository
	notifier reachability.Notifier
	unsubs   []func()

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
}

// Option customises New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	clock      clock.Clock
	registry   *operation.Registry
}

// WithHTTPClient sets the client used for delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock sets the clock used for item ids and timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRegistry replaces the default operation registry.
func WithRegistry(r *operation.Registry) Option {
	return func(o *options) { o.registry = r }
}

// New builds an App. Nothing runs until Start is called.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{clock: clock.RealClock{}, registry: operation.DefaultRegistry()}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg}

	sealer, err := buildSealer(cfg)
	if err != nil {
		return nil, err
	}

	var (
		kv        store.KeyValue
		abandoned store.AbandonedSink
		st        *store.Store
	)
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		database, err := db.OpenMigrated(cfg.App.DataDir)
		if err != nil {
			return nil, err
		}
		a.database = database
		a.repo = db.NewRepository(database.DB)
		kv = a.repo
		st = store.New(kv, store.WithSealer(sealer))
		abandoned = store.NewTableSink(a.repo, sealer)
	default:
		kv = store.NewMemoryKV()
		st = store.New(kv, store.WithSealer(sealer))
		abandoned = store.NewSlotSink(st)
	}

	deliverer, err := delivery.NewHTTPDeliverer(cfg.Sync.BaseURL, cfg.Sync.RequestTimeout)
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	if o.httpClient != nil {
		deliverer.WithClient(o.httpClient)
	}

	monitor, err := a.buildMonitor(cfg.Reachability)
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	a.Monitor = monitor

	a.Manager = queue.NewManager(queue.Deps{
		Store:        st,
		Deliverer:    deliverer,
		Reachability: monitor,
		Abandoned:    abandoned,
		Registry:     o.registry,
		Clock:        o.clock,
	}, queue.Config{
		MaxRetries:        cfg.Sync.MaxRetries,
		RetryClientErrors: cfg.Sync.RetryClientErrors,
	})

	a.Scheduler = scheduler.NewScheduler(a.Manager, &scheduler.SchedulerConfig{
		SyncInterval: cfg.Sync.PeriodicInterval,
	})

	a.Telemetry = telemetry.NewCollector()
	a.unsubs = append(a.unsubs, a.Manager.Subscribe(a.Telemetry.Observe))

	return a, nil
}

func (a *App) buildMonitor(rc config.ReachabilityConfig) (*reachability.Monitor, error) {
	if rc.Mode == config.ReachabilityManual {
		a.Manual = reachability.NewManual(true)
		a.notifier = a.Manual
		return reachability.NewMonitor(a.Manual, a.Manual), nil
	}

	prober, err := reachability.NewHTTPProber(rc.ProbeURL, rc.ProbeTimeout)
	if err != nil {
		return nil, err
	}

	var sources []reachability.Notifier
	if rc.PollInterval > 0 {
		sources = append(sources, reachability.NewTickerNotifier(rc.PollInterval))
	}
	if rc.WatchFile != "" {
		fn, err := reachability.NewFileNotifier(rc.WatchFile)
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
			}
			return nil, errors.Wrap(errors.ErrConfig, "watch reachability file", err)
		}
		sources = append(sources, fn)
	}

	switch len(sources) {
	case 0:
	case 1:
		a.notifier = sources[0]
	default:
		a.notifier = reachability.NewMultiNotifier(sources...)
	}
	return reachability.NewMonitor(prober, a.notifier), nil
}

// Start initializes the manager, starts the scheduler and, when online with
// work left from a previous run, kicks off a drain. It returns the online flag.
func (a *App) Start(ctx context.Context) bool {
	a.startOnce.Do(func() {
		a.started = true
		online := a.Manager.Initialize(ctx)
		a.Scheduler.Start(ctx)

		status := a.Manager.QueueStatus()
		logging.Info("kiosk sync started", map[string]interface{}{
			"online":  online,
			"pending": status.Total,
			"driver":  a.Config.Storage.Driver,
			"mode":    a.Config.Reachability.Mode,
		})
		if online && status.Total > 0 {
			a.Manager.TriggerSync()
		}
	})
	return a.Manager.CheckOnlineStatus()
}

// SetOnline pushes platform connectivity in manual mode. It reports false
// when the app observes reachability itself.
func (a *App) SetOnline(ctx context.Context, online bool) bool {
	if a.Manual == nil {
		return false
	}
	a.Manual.SetOnline(online)
	a.Monitor.Refresh(ctx)
	return true
}

// Close stops every component in reverse start order.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Scheduler.Stop()
		a.Scheduler.Wait()
		a.Manager.Shutdown()
		for _, unsub := range a.unsubs {
			unsub()
		}
		if a.started {
			if stopErr := a.Monitor.Stop(); stopErr != nil {
				logging.Warn("failed to stop reachability monitor", map[string]interface{}{"error": stopErr.Error()})
			}
		} else if a.notifier != nil {
			_ = a.notifier.Close()
		}
		err = a.closeStorage()
		logging.Info("kiosk sync stopped")
	})
	return err
}

func (a *App) closeStorage() error {
	if a.repo != nil {
		a.repo.Close()
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			return errors.Wrap(errors.ErrDatabase, "close database", err)
		}
	}
	return nil
}

// buildSealer returns nil when at-rest encryption is off.
func buildSealer(cfg *config.Config) (*crypto.Sealer, error) {
	secret := cfg.Storage.EncryptionKey
	if secret == "" {
		return nil, nil
	}
	if secret == config.EncryptionKeyAuto {
		s, err := crypto.NewKeyStore(cfg.App.DataDir).LoadOrCreate("queue")
		if err != nil {
			return nil, errors.Wrap(errors.ErrCrypto, "load queue key", err)
		}
		secret = s
	}
	s, err := crypto.NewSealer(secret)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCrypto, "create sealer", err)
	}
	return s, nil
}
