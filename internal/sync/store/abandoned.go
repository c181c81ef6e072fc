package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/kimhsiao/kiosksync/internal/crypto"
	"github.com/kimhsiao/kiosksync/internal/db"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/logging"
	"github.com/kimhsiao/kiosksync/internal/models"
)

// AbandonedSink records queue items that left the queue undelivered.
type AbandonedSink interface {
	Abandon(ctx context.Context, item models.AbandonedItem) error
	// List returns records newest first; limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]models.AbandonedItem, error)
	Clear(ctx context.Context) (int, error)
}

// SlotSink keeps dead-letter records as a JSON array in the @abandoned_items slot.
type SlotSink struct {
	mu    sync.Mutex
	store *Store
}

// NewSlotSink creates a SlotSink sharing the store's backend and sealer.
func NewSlotSink(s *Store) *SlotSink {
	return &SlotSink{store: s}
}

func (k *SlotSink) load(ctx context.Context) ([]models.AbandonedItem, error) {
	items := []models.AbandonedItem{}
	raw, ok, err := k.store.read(ctx, AbandonedSlot)
	if err != nil || !ok {
		return items, err
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		logging.Warn("abandoned slot is unparsable", map[string]interface{}{"error": err.Error()})
		return []models.AbandonedItem{}, nil
	}
	return items, nil
}

// Abandon implements AbandonedSink.
func (k *SlotSink) Abandon(ctx context.Context, item models.AbandonedItem) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	items, err := k.load(ctx)
	if err != nil {
		return err
	}
	items = append(items, item)

	data, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "encode abandoned items", err)
	}
	return k.store.write(ctx, AbandonedSlot, data)
}

// List implements AbandonedSink.
func (k *SlotSink) List(ctx context.Context, limit int) ([]models.AbandonedItem, error) {
	k.mu.Lock()
	items, err := k.load(ctx)
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AbandonedAt.After(items[j].AbandonedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Clear implements AbandonedSink.
func (k *SlotSink) Clear(ctx context.Context) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	items, err := k.load(ctx)
	if err != nil {
		return 0, err
	}
	if err := k.store.kv.Delete(ctx, AbandonedSlot); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "clear abandoned items", err)
	}
	return len(items), nil
}

// TableSink keeps dead-letter records in the abandoned_items table.
// The encoded item is sealed when a sealer is configured.
type TableSink struct {
	repo   db.AbandonedRepository
	sealer *crypto.Sealer
}

// NewTableSink creates a TableSink. sealer may be nil.
func NewTableSink(repo db.AbandonedRepository, sealer *crypto.Sealer) *TableSink {
	return &TableSink{repo: repo, sealer: sealer}
}

// Abandon implements AbandonedSink.
func (t *TableSink) Abandon(ctx context.Context, item models.AbandonedItem) error {
	blob, err := json.Marshal(item.Item)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "encode abandoned item", err)
	}
	if t.sealer != nil {
		if blob, err = t.sealer.Seal(blob); err != nil {
			return errors.Wrap(errors.ErrCrypto, "seal abandoned item", err)
		}
	}

	rec := db.AbandonedRecord{
		ID:          item.Item.ID,
		Operation:   item.Item.Type,
		Reason:      string(item.Reason),
		RetryCount:  item.Item.RetryCount,
		LastError:   item.Item.LastError,
		Item:        blob,
		AbandonedAt: item.AbandonedAt,
	}
	if err := t.repo.InsertAbandoned(ctx, rec); err != nil {
		return errors.Wrap(errors.ErrDatabase, "insert abandoned item", err)
	}
	return nil
}

// List implements AbandonedSink. Rows whose item cannot be decoded are
// returned with the indexed columns only.
func (t *TableSink) List(ctx context.Context, limit int) ([]models.AbandonedItem, error) {
	records, err := t.repo.ListAbandoned(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list abandoned items", err)
	}

	items := make([]models.AbandonedItem, 0, len(records))
	for _, rec := range records {
		out := models.AbandonedItem{
			Item: models.QueueItem{
				ID:         rec.ID,
				Type:       rec.Operation,
				RetryCount: rec.RetryCount,
				Status:     models.StatusFailed,
				LastError:  rec.LastError,
			},
			Reason:      models.AbandonReason(rec.Reason),
			AbandonedAt: rec.AbandonedAt,
		}

		blob := rec.Item
		if crypto.IsSealed(blob) {
			if t.sealer == nil {
				blob = nil
			} else if blob, err = t.sealer.Open(blob); err != nil {
				blob = nil
			}
		}
		if blob != nil {
			var full models.QueueItem
			if json.Unmarshal(blob, &full) == nil {
				out.Item = full
			}
		}
		items = append(items, out)
	}
	return items, nil
}

// Clear implements AbandonedSink.
func (t *TableSink) Clear(ctx context.Context) (int, error) {
	n, err := t.repo.ClearAbandoned(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "clear abandoned items", err)
	}
	return n, nil
}
