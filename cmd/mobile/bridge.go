package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/kiosksync/internal/app"
	"github.com/kimhsiao/kiosksync/internal/config"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/models"
)

// callTimeout bounds blocking bridge calls so the host UI thread is never held indefinitely.
const callTimeout = 2 * time.Minute

// InitOptions is the JSON accepted by KioskInit. Connectivity is always
// pushed by the host through KioskSetOnline.
type InitOptions struct {
	DataDir           string `json:"dataDir"`
	BaseURL           string `json:"baseUrl"`
	MaxRetries        int    `json:"maxRetries"`
	RequestTimeoutMs  int    `json:"requestTimeoutMs"`
	EncryptionKey     string `json:"encryptionKey"`
	RetryClientErrors *bool  `json:"retryClientErrors"`
	Online            *bool  `json:"online"`
}

// response is the envelope of every bridge answer.
type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
}

// bridge owns the app instance behind the exported C functions.
type bridge struct {
	mu      sync.Mutex
	app     *app.App
	lastErr string
}

func (b *bridge) ok(data interface{}) string {
	return encode(response{OK: true, Data: data})
}

func (b *bridge) fail(err error) string {
	b.lastErr = err.Error()
	return encode(response{Error: err.Error(), Code: string(errors.CodeOf(err))})
}

func encode(r response) string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error":"encode response","code":"INTERNAL_ERROR"}`
	}
	return string(data)
}

func (b *bridge) current() (*app.App, error) {
	if b.app == nil {
		return nil, errors.New(errors.ErrSyncNotInitialized, "call KioskInit first")
	}
	return b.app, nil
}

// Init builds and starts the app from a JSON options object.
func (b *bridge) Init(optionsJSON string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.app != nil {
		return b.ok(map[string]bool{"online": b.app.Manager.CheckOnlineStatus()})
	}

	var opts InitOptions
	if optionsJSON != "" {
		if err := json.Unmarshal([]byte(optionsJSON), &opts); err != nil {
			return b.fail(errors.Wrap(errors.ErrInvalid, "decode init options", err))
		}
	}

	cfg := config.Default()
	cfg.Reachability.Mode = config.ReachabilityManual
	if opts.DataDir != "" {
		cfg.App.DataDir = opts.DataDir
	}
	cfg.Sync.BaseURL = opts.BaseURL
	if opts.MaxRetries > 0 {
		cfg.Sync.MaxRetries = opts.MaxRetries
	}
	if opts.RequestTimeoutMs > 0 {
		cfg.Sync.RequestTimeout = time.Duration(opts.RequestTimeoutMs) * time.Millisecond
	}
	if opts.RetryClientErrors != nil {
		cfg.Sync.RetryClientErrors = *opts.RetryClientErrors
	}
	cfg.Storage.EncryptionKey = opts.EncryptionKey

	a, err := app.New(cfg)
	if err != nil {
		return b.fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if opts.Online != nil {
		a.SetOnline(ctx, *opts.Online)
	}
	online := a.Start(ctx)

	b.app = a
	return b.ok(map[string]bool{"online": online})
}

// Enqueue buffers an operation described by an EnqueueRequest JSON object.
func (b *bridge) Enqueue(requestJSON string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.current()
	if err != nil {
		return b.fail(err)
	}

	var req models.EnqueueRequest
	if err := json.Unmarshal([]byte(requestJSON), &req); err != nil {
		return b.fail(errors.Wrap(errors.ErrInvalid, "decode enqueue request", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	id, err := a.Manager.Enqueue(ctx, req)
	if err != nil {
		return b.fail(err)
	}
	return b.ok(map[string]string{"id": id})
}

// QueueStatus reports queue counts and connectivity.
func (b *bridge) QueueStatus() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.current()
	if err != nil {
		return b.fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return b.ok(models.StatusReport{
		Online:   a.Manager.CheckOnlineStatus(),
		Queue:    a.Manager.QueueStatus(),
		LastSync: a.Manager.LastSyncStatus(ctx),
	})
}

// ForceSync drains now and returns the result.
func (b *bridge) ForceSync() string {
	b.mu.Lock()
	a, err := b.current()
	b.mu.Unlock()
	if err != nil {
		return b.failLocked(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := a.Manager.ForceSync(ctx)
	if err != nil {
		return b.failLocked(err)
	}
	return b.ok(result)
}

// SetOnline pushes platform connectivity.
func (b *bridge) SetOnline(online bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.current()
	if err != nil {
		return b.fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	a.SetOnline(ctx, online)
	return b.ok(map[string]bool{"online": a.Manager.CheckOnlineStatus()})
}

// Shutdown stops the app. A later Init starts a fresh one.
func (b *bridge) Shutdown() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.app == nil {
		return b.ok(nil)
	}
	err := b.app.Close()
	b.app = nil
	if err != nil {
		return b.fail(err)
	}
	return b.ok(nil)
}

// LastError returns the message of the most recent failure.
func (b *bridge) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *bridge) failLocked(err error) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fail(err)
}
