// Package store persists the sync queue and the last drain summary to named
// key-value slots.
//
// Writes are full overwrites. Reads never fail on bad data: a missing,
// unparsable or undecryptable slot reads as an empty queue or a nil status.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kimhsiao/kiosksync/internal/crypto"
	"github.com/kimhsiao/kiosksync/internal/errors"
	"github.com/kimhsiao/kiosksync/internal/logging"
	"github.com/kimhsiao/kiosksync/internal/models"
)

// Slot names.
const (
	QueueSlot     = "@offline_sync_queue"
	LastSyncSlot  = "@last_sync_status"
	AbandonedSlot = "@abandoned_items"
)

// KeyValue is a persistent byte-slot store.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes the queue and last-sync slots.
type Store struct {
	kv     KeyValue
	sealer *crypto.Sealer
}

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts slot contents at rest.
func WithSealer(s *crypto.Sealer) Option {
	return func(st *Store) {
		st.sealer = s
	}
}

// New creates a Store over kv.
func New(kv KeyValue, opts ...Option) *Store {
	s := &Store{kv: kv}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadQueue returns the persisted queue in stored order. The returned slice
// is never nil. An error is returned only when the backend itself fails.
func (s *Store) LoadQueue(ctx context.Context) ([]*models.QueueItem, error) {
	items := []*models.QueueItem{}

	raw, ok, err := s.read(ctx, QueueSlot)
	if err != nil {
		return items, err
	}
	if !ok {
		return items, nil
	}

	var decoded []*models.QueueItem
	if err := json.Unmarshal(raw, &decoded); err != nil {
		logging.Warn("queue slot is unparsable, starting with an empty queue", map[string]interface{}{
			"slot":  QueueSlot,
			"error": err.Error(),
		})
		return items, nil
	}
	for _, item := range decoded {
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

// SaveQueue overwrites the queue slot.
func (s *Store) SaveQueue(ctx context.Context, items []*models.QueueItem) error {
	if items == nil {
		items = []*models.QueueItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "encode queue", err)
	}
	return s.write(ctx, QueueSlot, data)
}

// LoadLastSync returns the last persisted drain summary, or nil when none exists.
func (s *Store) LoadLastSync(ctx context.Context) (*models.LastSyncStatus, error) {
	raw, ok, err := s.read(ctx, LastSyncSlot)
	if err != nil || !ok {
		return nil, err
	}

	var status models.LastSyncStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		logging.Warn("last sync slot is unparsable", map[string]interface{}{
			"slot":  LastSyncSlot,
			"error": err.Error(),
		})
		return nil, nil
	}
	if status.Results.Errors == nil {
		status.Results.Errors = []models.SyncError{}
	}
	return &status, nil
}

// SaveLastSync overwrites the last-sync slot.
func (s *Store) SaveLastSync(ctx context.Context, status models.LastSyncStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "encode last sync status", err)
	}
	return s.write(ctx, LastSyncSlot, data)
}

// read fetches a slot and removes the at-rest envelope. Data that cannot be
// opened is reported as missing.
func (s *Store) read(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrStorage, "read slot "+key, err)
	}
	if !ok || len(raw) == 0 {
		return nil, false, nil
	}

	if !crypto.IsSealed(raw) {
		return raw, true, nil
	}
	if s.sealer == nil {
		logging.Warn("slot is encrypted but no storage key is configured", map[string]interface{}{"slot": key})
		return nil, false, nil
	}
	plain, err := s.sealer.Open(raw)
	if err != nil {
		logging.Warn("slot could not be decrypted", map[string]interface{}{
			"slot":  key,
			"error": err.Error(),
		})
		return nil, false, nil
	}
	return plain, true, nil
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(data)
		if err != nil {
			return errors.Wrap(errors.ErrCrypto, "seal slot "+key, err)
		}
		data = sealed
	}
	if err := s.kv.Put(ctx, key, data); err != nil {
		return errors.Wrap(errors.ErrStorage, "write slot "+key, err)
	}
	return nil
}

// MemoryKV is an in-process KeyValue. Values are copied on the way in and out.
type MemoryKV struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{slots: make(map[string][]byte)}
}

// Get implements KeyValue.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.slots[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements KeyValue.
func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements KeyValue.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}
