// Package db provides repository interfaces for dependency injection and testing.
package db

import "context"

// SlotRepository defines the named-slot operations used by the queue store.
type SlotRepository interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// AbandonedRepository defines dead-letter operations.
type AbandonedRepository interface {
	InsertAbandoned(ctx context.Context, rec AbandonedRecord) error
	ListAbandoned(ctx context.Context, limit int) ([]AbandonedRecord, error)
	CountAbandoned(ctx context.Context) (int, error)
	ClearAbandoned(ctx context.Context) (int, error)
}

// RepositoryInterface combines all repository interfaces.
type RepositoryInterface interface {
	SlotRepository
	AbandonedRepository
	Close() error
}

// Ensure Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)
