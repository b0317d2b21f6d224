package friends

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"fitsocial/internal/models"
	"fitsocial/internal/observability"
)

// NotifiedKey is the durable key holding userID's notified invite ids.
func NotifiedKey(userID string) string {
	return "friends:notified:" + userID
}

// Dispatcher surfaces at most one device notification per refresh for invites the
// user has not been told about yet, and remembers every invite it has covered.
type Dispatcher struct {
	userID string
	kv     KeyValue
	center NotificationCenter
	log    *observability.SessionLogger

	// mu is held for a whole HandleRefresh so overlapping refreshes cannot
	// both see the same invite as unseen.
	mu       sync.Mutex
	notified map[string]struct{}
}

// NewDispatcher returns a dispatcher for userID with an empty in-memory set.
func NewDispatcher(userID string, kv KeyValue, center NotificationCenter) *Dispatcher {
	return &Dispatcher{
		userID:   userID,
		kv:       kv,
		center:   center,
		log:      observability.NewSessionLogger(userID),
		notified: make(map[string]struct{}),
	}
}

// Load seeds the in-memory set from the durable store. A read failure leaves the
// set as it is and is returned for logging.
func (d *Dispatcher) Load(ctx context.Context) error {
	if d.kv == nil {
		return nil
	}
	raw, found, err := d.kv.Get(ctx, NotifiedKey(d.userID))
	if err != nil {
		return err
	}
	if !found || raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.notified[id] = struct{}{}
	}
	return nil
}

// Reset forgets the in-memory set. Used on sign-out; the durable copy stays.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.notified = make(map[string]struct{})
	d.mu.Unlock()
}

// Seen reports whether id is in the notified set.
func (d *Dispatcher) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.notified[id]
	return ok
}

// HandleRefresh inspects a freshly loaded edge list. It returns whether a
// notification was presented. Running it again on the same edges is a no-op.
func (d *Dispatcher) HandleRefresh(ctx context.Context, edges []models.Friendship) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var unseen []*models.Friendship
	for i := range edges {
		edge := &edges[i]
		if edge.Status != models.FriendshipStatusPending || edge.AddresseeID != d.userID {
			continue
		}
		if _, ok := d.notified[edge.ID]; ok {
			continue
		}
		unseen = append(unseen, edge)
	}
	if len(unseen) == 0 {
		return false, nil
	}

	if d.center == nil {
		return false, nil
	}
	granted, err := d.center.RequestPermission(ctx)
	if err != nil {
		observability.InviteNotifications.WithLabelValues("permission_error").Inc()
		return false, err
	}
	if !granted {
		observability.InviteNotifications.WithLabelValues("permission_denied").Inc()
		return false, nil
	}

	first := unseen[0]
	if err := d.center.Present(ctx, models.NewFriendInviteNotification(first)); err != nil {
		observability.InviteNotifications.WithLabelValues("present_error").Inc()
		return false, err
	}
	observability.InviteNotifications.WithLabelValues("presented").Inc()
	if len(unseen) > 1 {
		observability.InviteNotifications.WithLabelValues("batched").Add(float64(len(unseen) - 1))
	}

	for _, edge := range unseen {
		d.notified[edge.ID] = struct{}{}
	}
	if err := d.persistLocked(ctx); err != nil {
		d.log.Error(ctx, "failed to persist notified invites", err, map[string]interface{}{
			"count": len(d.notified),
		})
	}
	return true, nil
}

func (d *Dispatcher) persistLocked(ctx context.Context) error {
	if d.kv == nil {
		return nil
	}
	ids := make([]string, 0, len(d.notified))
	for id := range d.notified {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return d.kv.Set(ctx, NotifiedKey(d.userID), string(raw))
}
