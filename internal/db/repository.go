// Package db provides repository operations for kiosksync persistence.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Repository provides slot and dead-letter operations on the kiosksync database.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Store in cache (if already stored by another goroutine, use existing)
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// =====================================================
// Slot Operations
// =====================================================

// Get returns the value stored under key. The boolean is false when the
// slot has never been written.
func (r *Repository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stmt, err := r.PrepareStmt(`SELECT value FROM kv_slots WHERE key = ?`)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put overwrites the slot under key.
func (r *Repository) Put(ctx context.Context, key string, value []byte) error {
	stmt, err := r.PrepareStmt(`
	INSERT INTO kv_slots (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err = stmt.ExecContext(ctx, key, value, time.Now().UnixMilli())
	return err
}

// Delete removes the slot under key. Deleting a missing slot is not an error.
func (r *Repository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv_slots WHERE key = ?`, key)
	return err
}

// =====================================================
// Abandoned Item Operations
// =====================================================

// AbandonedRecord is one row of the dead-letter table. Item holds the
// encoded queue item exactly as the caller produced it.
type AbandonedRecord struct {
	ID          string
	Operation   string
	Reason      string
	RetryCount  int
	LastError   string
	Item        []byte
	AbandonedAt time.Time
}

// InsertAbandoned records an evicted item. Re-abandoning the same id replaces the row.
func (r *Repository) InsertAbandoned(ctx context.Context, rec AbandonedRecord) error {
	stmt, err := r.PrepareStmt(`
	INSERT OR REPLACE INTO abandoned_items (id, operation, reason, retry_count, last_error, item, abandoned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	var lastError sql.NullString
	if rec.LastError != "" {
		lastError = sql.NullString{String: rec.LastError, Valid: true}
	}
	at := rec.AbandonedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err = stmt.ExecContext(ctx, rec.ID, rec.Operation, rec.Reason, rec.RetryCount,
		lastError, rec.Item, at.UnixMilli())
	return err
}

// ListAbandoned returns dead-letter records, newest first. A limit <= 0 returns all rows.
func (r *Repository) ListAbandoned(ctx context.Context, limit int) ([]AbandonedRecord, error) {
	query := `
	SELECT id, operation, reason, retry_count, last_error, item, abandoned_at
	FROM abandoned_items ORDER BY abandoned_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []AbandonedRecord{}
	for rows.Next() {
		var rec AbandonedRecord
		var lastError sql.NullString
		var at int64
		if err := rows.Scan(&rec.ID, &rec.Operation, &rec.Reason, &rec.RetryCount,
			&lastError, &rec.Item, &at); err != nil {
			return nil, err
		}
		if lastError.Valid {
			rec.LastError = lastError.String
		}
		rec.AbandonedAt = time.UnixMilli(at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountAbandoned returns the number of dead-letter records.
func (r *Repository) CountAbandoned(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM abandoned_items`).Scan(&n)
	return n, err
}

// ClearAbandoned deletes every dead-letter record and returns how many were removed.
func (r *Repository) ClearAbandoned(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM abandoned_items`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
