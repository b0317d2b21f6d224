// Package friends implements the friend-relationship lifecycle for one signed-in user:
// loading and normalizing edges, deriving the relation index, guarding mutations,
// candidate search and deduplicated invite notifications.
//
// Everything outside the process (the relational store, the change feed, the durable
// key-value cache and the device notification facility) is reached through the
// interfaces in this file.
package friends

import (
	"context"

	"fitsocial/internal/models"
)

// DefaultSearchLimit caps candidate search results.
const DefaultSearchLimit = 40

// Store is the remote relational store holding friendship and profile rows.
type Store interface {
	// QueryEdges returns every edge where userID is requester or addressee,
	// newest first, without profile snapshots.
	QueryEdges(ctx context.Context, userID string) ([]models.Friendship, error)
	// QueryProfiles batch-fetches profiles by id. Unknown ids are simply absent.
	QueryProfiles(ctx context.Context, ids []string) ([]models.ProfileSummary, error)
	// SearchProfiles matches term against username or full name, excluding excludeID.
	SearchProfiles(ctx context.Context, term, excludeID string, limit int) ([]models.ProfileSummary, error)
	InsertEdge(ctx context.Context, requesterID, addresseeID string) (*models.Friendship, error)
	// DeleteEdge and UpdateEdge return the number of rows the owner filter let through.
	DeleteEdge(ctx context.Context, id string, owner models.OwnerFilter) (int64, error)
	UpdateEdge(ctx context.Context, id string, fields models.EdgeUpdate, owner models.OwnerFilter) (int64, error)
}

// ProfileSearcher is the slice of Store used by CandidateSearch.
type ProfileSearcher interface {
	SearchProfiles(ctx context.Context, term, excludeID string, limit int) ([]models.ProfileSummary, error)
}

// Subscription is an open change-feed subscription. Close is idempotent.
type Subscription interface {
	Close() error
}

// EventSource delivers row changes on the friendships table matching a filter.
type EventSource interface {
	Subscribe(ctx context.Context, filter models.OwnerFilter, handler func(models.FriendshipChange)) (Subscription, error)
}

// KeyValue is the durable local cache used for the notified-invite log.
type KeyValue interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// NotificationCenter is the device notification facility for one user.
type NotificationCenter interface {
	// RequestPermission returns true when notifications may be shown.
	// It succeeds without prompting when permission was already granted.
	RequestPermission(ctx context.Context) (bool, error)
	Present(ctx context.Context, n models.Notification) error
}
