package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/kiosksync/internal/crypto"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/models"
)

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingKV) Put(context.Context, string, []byte) error         { return f.err }
func (f failingKV) Delete(context.Context, string) error              { return f.err }

func sampleItems() []*models.QueueItem {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	return []*models.QueueItem{
		{
			ID: "1772353800000-abcdef012", Timestamp: ts, Type: "attendance",
			Data: json.RawMessage(`{"userId":"U1"}`), URL: "/sync", Method: "POST",
			Status: models.StatusPending,
		},
		{
			ID: "1772353800001-0123456ab", Timestamp: ts.Add(time.Second), Type: "enrollment",
			Data: json.RawMessage(`{"userId":"U2"}`), URL: "/enroll", Method: "PUT",
			RetryCount: 2, Status: models.StatusFailed, LastError: "HTTP 500",
		},
	}
}

func TestStore_queueRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV())

	require.NoError(t, s.SaveQueue(ctx, sampleItems()))

	loaded, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleItems(), loaded)
}

func TestStore_missingSlots(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV())

	items, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	last, err := s.LoadLastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestStore_corruptSlots(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(ctx, QueueSlot, []byte("{not json")))
	require.NoError(t, kv.Put(ctx, LastSyncSlot, []byte("[]")))
	s := New(kv)

	items, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	last, err := s.LoadLastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestStore_nilEntriesSkipped(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(ctx, QueueSlot, []byte(`[null,{"id":"1-aaaaaaaaa","status":"pending"}]`)))

	items, err := New(kv).LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1-aaaaaaaaa", items[0].ID)
}

func TestStore_backendFailure(t *testing.T) {
	ctx := context.Background()
	s := New(failingKV{err: stderrors.New("disk gone")})

	items, err := s.LoadQueue(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))
	assert.NotNil(t, items, "queue is usable even when the read fails")

	err = s.SaveQueue(ctx, sampleItems())
	assert.True(t, errors.Is(err, errors.ErrStorage))
}

func TestStore_lastSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV())
	status := models.LastSyncStatus{
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Results: models.SyncResult{
			Total: 2, Succeeded: 1, Failed: 1,
			Errors: []models.SyncError{{ID: "1-a", Operation: "attendance", Error: "HTTP 500"}},
		},
	}

	require.NoError(t, s.SaveLastSync(ctx, status))
	loaded, err := s.LoadLastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, status, *loaded)
}

func TestStore_sealed(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	sealer, err := crypto.NewSealer("kiosk-secret")
	require.NoError(t, err)
	s := New(kv, WithSealer(sealer))

	require.NoError(t, s.SaveQueue(ctx, sampleItems()))

	raw, ok, err := kv.Get(ctx, QueueSlot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, crypto.IsSealed(raw))
	assert.NotContains(t, string(raw), "U1", "payload must not be stored in clear text")

	loaded, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleItems(), loaded)

	// A store without the key treats the slot as empty.
	plain, err := New(kv).LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, plain)

	// So does a store with the wrong key.
	other, err := crypto.NewSealer("another-secret")
	require.NoError(t, err)
	wrong, err := New(kv, WithSealer(other)).LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, wrong)
}

func TestStore_plaintextReadWithSealer(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, New(kv).SaveQueue(ctx, sampleItems()))

	sealer, err := crypto.NewSealer("kiosk-secret")
	require.NoError(t, err)
	loaded, err := New(kv, WithSealer(sealer)).LoadQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2, "existing clear-text slots stay readable after enabling encryption")
}

func TestMemoryKV_copies(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	value := []byte("abc")
	require.NoError(t, kv.Put(ctx, "k", value))
	value[0] = 'x'

	got, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}
