// Package app tests run the wired sync core end to end against local
// storage and an httptest backend.
package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/kiosksync/internal/config"
	"github.com/kimhsiao/kiosksync/internal/crypto"
	"github.com/kimhsiao/kiosksync/internal/db"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/sync/store"
)

type backend struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func newBackend(t *testing.T, status int) *backend {
	t.Helper()
	b := &backend{}
	b.status.Store(int32(status))
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		w.WriteHeader(int(b.status.Load()))
	}))
	t.Cleanup(b.Close)
	return b
}

func testConfig(t *testing.T, driver, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.App.DataDir = t.TempDir()
	cfg.Storage.Driver = driver
	cfg.Reachability.Mode = config.ReachabilityManual
	cfg.Sync.BaseURL = baseURL
	cfg.Sync.RequestTimeout = 2 * time.Second
	return cfg
}

func checkIn(userID string) models.EnqueueRequest {
	return models.EnqueueRequest{
		Type: "attendance",
		Data: json.RawMessage(`{"userId":"` + userID + `","eventType":"check_in","method":"nfc"}`),
		URL:  "/api/attendance",
	}
}

// TestApp_offlineBufferingSurvivesRestart verifies items captured offline
// are persisted, reloaded on the next start and drained once online.
func TestApp_offlineBufferingSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t, http.StatusCreated)
	cfg := testConfig(t, config.DriverSQLite, srv.URL)

	first, err := New(cfg)
	require.NoError(t, err)
	require.True(t, first.SetOnline(ctx, false))
	require.False(t, first.Start(ctx))

	for _, user := range []string{"U1", "U2"} {
		_, err := first.Manager.Enqueue(ctx, checkIn(user))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, first.Manager.QueueStatus().Pending)
	require.NoError(t, first.Close())
	assert.Zero(t, srv.hits.Load(), "nothing is sent while offline")

	second, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	require.True(t, second.Start(ctx))
	require.Eventually(t, func() bool {
		return second.Manager.QueueStatus().Total == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), srv.hits.Load())
	last := second.Manager.LastSyncStatus(ctx)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Results.Succeeded)
}

// TestApp_reconnectAbandonsFailingItem verifies the retry budget and the
// dead-letter path through the wired stack.
func TestApp_reconnectAbandonsFailingItem(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t, http.StatusInternalServerError)
	cfg := testConfig(t, config.DriverMemory, srv.URL)

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.SetOnline(ctx, false)
	require.False(t, a.Start(ctx))

	_, err = a.Manager.Enqueue(ctx, checkIn("U9"))
	require.NoError(t, err)

	a.SetOnline(ctx, true)
	require.Eventually(t, func() bool {
		a.Manager.TriggerSync()
		return a.Manager.QueueStatus().Total == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(cfg.Sync.MaxRetries), srv.hits.Load())

	dead, err := a.Manager.ListAbandoned(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, models.AbandonMaxRetries, dead[0].Reason)
	assert.Equal(t, "HTTP 500 Internal Server Error", dead[0].Item.LastError)

	require.Eventually(t, func() bool {
		snap := a.Telemetry.Snapshot()
		return snap.Abandoned == 1 && snap.Failed == cfg.Sync.MaxRetries
	}, time.Second, 10*time.Millisecond)
	snap := a.Telemetry.Snapshot()
	require.NotNil(t, snap.Online)
	assert.True(t, *snap.Online)
	assert.Equal(t, 0, snap.Delivered)
}

// TestApp_encryptedAtRest verifies the queue slot is sealed in SQLite.
func TestApp_encryptedAtRest(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverSQLite, "https://attendance.example")
	cfg.Storage.EncryptionKey = "kiosk-secret"

	a, err := New(cfg)
	require.NoError(t, err)
	a.SetOnline(ctx, false)
	a.Start(ctx)
	_, err = a.Manager.Enqueue(ctx, checkIn("U-PRIVATE"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	database, err := db.Open(cfg.App.DataDir)
	require.NoError(t, err)
	defer database.Close()

	raw, ok, err := db.NewRepository(database.DB).Get(ctx, store.QueueSlot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, crypto.IsSealed(raw))
	assert.NotContains(t, string(raw), "U-PRIVATE")
}

// TestApp_autoEncryptionKey verifies a generated key is persisted and reused
// so a restarted app can read its own sealed queue.
func TestApp_autoEncryptionKey(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverSQLite, "https://attendance.example")
	cfg.Storage.EncryptionKey = config.EncryptionKeyAuto

	first, err := New(cfg)
	require.NoError(t, err)
	first.SetOnline(ctx, false)
	first.Start(ctx)
	_, err = first.Manager.Enqueue(ctx, checkIn("U-AUTO"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	_, err = os.Stat(filepath.Join(cfg.App.DataDir, "secure", "queue.key"))
	require.NoError(t, err, "generated key should be stored under the data dir")

	second, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	second.SetOnline(ctx, false)
	second.Start(ctx)

	assert.Equal(t, 1, second.Manager.QueueStatus().Pending)
}

// TestNew_invalidConfig verifies configuration problems surface as CONFIG_INVALID.
func TestNew_invalidConfig(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory, "")
	cfg.Sync.MaxRetries = 0

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

// TestApp_SetOnline_httpMode verifies pushed state is refused when the app
// probes reachability itself.
func TestApp_SetOnline_httpMode(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory, "")
	cfg.Reachability.Mode = config.ReachabilityHTTP
	cfg.Reachability.ProbeURL = "http://127.0.0.1:1/generate_204"

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, a.Manual)
	assert.False(t, a.SetOnline(context.Background(), true))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
