package events

import "github.com/kimhsiao/kiosksync/internal/models"

// Kind names a sync event. The values double as WebSocket event types.
type Kind string

const (
	KindOnline        Kind = "connectivity.changed"
	KindSyncStarted   Kind = "sync.started"
	KindSyncCompleted Kind = "sync.completed"
	KindItemAbandoned Kind = "item.abandoned"
)

// Event is the payload delivered to sync listeners. Exactly one group of
// fields is set, matching Kind.
type Event struct {
	Kind Kind `json:"-"`

	Online *bool `json:"online,omitempty"`

	SyncStarted   bool               `json:"syncStarted,omitempty"`
	SyncCompleted bool               `json:"syncCompleted,omitempty"`
	Results       *models.SyncResult `json:"results,omitempty"`

	ItemAbandoned bool                  `json:"itemAbandoned,omitempty"`
	Abandoned     *models.AbandonedItem `json:"abandoned,omitempty"`
}

// OnlineChanged builds an {online} event.
func OnlineChanged(online bool) Event {
	return Event{Kind: KindOnline, Online: &online}
}

// SyncStarted builds a {syncStarted: true} event.
func SyncStarted() Event {
	return Event{Kind: KindSyncStarted, SyncStarted: true}
}

// SyncCompleted builds a {syncCompleted: true, results} event.
func SyncCompleted(results *models.SyncResult) Event {
	return Event{Kind: KindSyncCompleted, SyncCompleted: true, Results: results}
}

// ItemAbandoned builds an {itemAbandoned: true, abandoned} event.
func ItemAbandoned(item *models.AbandonedItem) Event {
	return Event{Kind: KindItemAbandoned, ItemAbandoned: true, Abandoned: item}
}
