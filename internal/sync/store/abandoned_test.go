package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/kiosksync/internal/crypto"
	"github.com/kimhsiao/kiosksync/internal/db"
	"github.com/kimhsiao/kiosksync/internal/models"
)

func abandonedFixtures() []models.AbandonedItem {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	items := sampleItems()
	return []models.AbandonedItem{
		{Item: *items[1], Reason: models.AbandonMaxRetries, AbandonedAt: base},
		{Item: *items[0], Reason: models.AbandonRejected, AbandonedAt: base.Add(time.Minute)},
	}
}

func exerciseSink(t *testing.T, sink AbandonedSink) {
	t.Helper()
	ctx := context.Background()

	for _, a := range abandonedFixtures() {
		require.NoError(t, sink.Abandon(ctx, a))
	}

	listed, err := sink.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, models.AbandonRejected, listed[0].Reason, "newest first")
	assert.Equal(t, abandonedFixtures()[1].Item, listed[0].Item)
	assert.Equal(t, "HTTP 500", listed[1].Item.LastError)
	assert.True(t, listed[1].AbandonedAt.Equal(abandonedFixtures()[0].AbandonedAt))

	limited, err := sink.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := sink.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	listed, err = sink.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestSlotSink(t *testing.T) {
	exerciseSink(t, NewSlotSink(New(NewMemoryKV())))
}

func TestSlotSink_sealed(t *testing.T) {
	sealer, err := crypto.NewSealer("kiosk-secret")
	require.NoError(t, err)
	exerciseSink(t, NewSlotSink(New(NewMemoryKV(), WithSealer(sealer))))
}

func newRepo(t *testing.T) *db.Repository {
	t.Helper()
	database, err := db.OpenMigrated(t.TempDir())
	require.NoError(t, err)
	repo := db.NewRepository(database.DB)
	t.Cleanup(func() {
		repo.Close()
		database.Close()
	})
	return repo
}

func TestTableSink(t *testing.T) {
	exerciseSink(t, NewTableSink(newRepo(t), nil))
}

func TestTableSink_sealed(t *testing.T) {
	sealer, err := crypto.NewSealer("kiosk-secret")
	require.NoError(t, err)
	exerciseSink(t, NewTableSink(newRepo(t), sealer))
}

func TestTableSink_missingKeyKeepsColumns(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	sealer, err := crypto.NewSealer("kiosk-secret")
	require.NoError(t, err)

	require.NoError(t, NewTableSink(repo, sealer).Abandon(ctx, abandonedFixtures()[0]))

	listed, err := NewTableSink(repo, nil).List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "1772353800001-0123456ab", listed[0].Item.ID)
	assert.Equal(t, "enrollment", listed[0].Item.Type)
	assert.Equal(t, 2, listed[0].Item.RetryCount)
	assert.Nil(t, listed[0].Item.Data, "sealed payload is not exposed without the key")
}

func TestStore_sqliteBackend(t *testing.T) {
	ctx := context.Background()
	s := New(newRepo(t))

	require.NoError(t, s.SaveQueue(ctx, sampleItems()))
	loaded, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleItems(), loaded)
}
