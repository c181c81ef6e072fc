// Package models provides data model definitions for the kiosk sync core.
package models

import (
	"encoding/json"
	"time"
)

// QueueItemStatus is the delivery state of a buffered operation.
// Delivered items are removed from the queue, so there is no "completed" state.
type QueueItemStatus string

const (
	StatusPending QueueItemStatus = "pending"
	StatusFailed  QueueItemStatus = "failed"
)

// DefaultMethod is used when an enqueue request carries no HTTP method.
const DefaultMethod = "POST"

// QueueItem represents one buffered operation awaiting delivery.
// The JSON layout is the persisted form of the queue slot.
type QueueItem struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	URL        string          `json:"url"`
	Method     string          `json:"method"`
	RetryCount int             `json:"retryCount"`
	Status     QueueItemStatus `json:"status"`
	LastError  string          `json:"lastError,omitempty"`
}

// Clone returns a deep copy of the item.
func (q *QueueItem) Clone() *QueueItem {
	c := *q
	if q.Data != nil {
		c.Data = append(json.RawMessage(nil), q.Data...)
	}
	return &c
}

// Eligible reports whether the item should be attempted in a drain pass.
func (q *QueueItem) Eligible(maxRetries int) bool {
	switch q.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return q.RetryCount < maxRetries
	}
	return false
}

// EnqueueRequest is the enqueue contract consumed by kiosk screens.
type EnqueueRequest struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	URL    string          `json:"url"`
	Method string          `json:"method,omitempty"`
}

// QueueStatus is a point-in-time view of the queue.
type QueueStatus struct {
	Total   int  `json:"total" yaml:"total"`
	Pending int  `json:"pending" yaml:"pending"`
	Failed  int  `json:"failed" yaml:"failed"`
	Syncing bool `json:"syncing" yaml:"syncing"`
}

// StatusReport is the control API view of the sync core.
type StatusReport struct {
	Online   bool            `json:"online" yaml:"online"`
	Queue    QueueStatus     `json:"queue" yaml:"queue"`
	LastSync *LastSyncStatus `json:"lastSync,omitempty" yaml:"last_sync,omitempty"`
}
