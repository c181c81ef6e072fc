package models

import "time"

// SyncError describes one failed delivery within a drain pass.
type SyncError struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// SyncResult summarises one drain pass.
type SyncResult struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []SyncError `json:"errors"`
}

// NewSyncResult returns an empty result with a non-nil error list.
func NewSyncResult() *SyncResult {
	return &SyncResult{Errors: []SyncError{}}
}

// LastSyncStatus is the single persisted snapshot of the most recent drain.
type LastSyncStatus struct {
	Timestamp time.Time  `json:"timestamp"`
	Results   SyncResult `json:"results"`
}

// AbandonReason explains why an item left the queue without being delivered.
type AbandonReason string

const (
	AbandonMaxRetries AbandonReason = "max_retries"
	AbandonRejected   AbandonReason = "rejected"
)

// AbandonedItem is a dead-letter record for an evicted queue item.
type AbandonedItem struct {
	Item        QueueItem     `json:"item"`
	Reason      AbandonReason `json:"reason"`
	AbandonedAt time.Time     `json:"abandonedAt"`
}
