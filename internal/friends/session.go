package friends

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fitsocial/internal/models"
	"fitsocial/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	UserID string
	Store  Store
	Events EventSource
	KV     KeyValue
	Center NotificationCenter
	Search SearchOptions
	// Now is used for responded_at. Defaults to time.Now.
	Now func() time.Time
}

// Snapshot is a consistent copy of the session's derived state.
type Snapshot struct {
	UserID      string              `json:"user_id"`
	Friendships []models.Friendship `json:"friendships"`
	Relations   RelationIndex       `json:"relations"`
	Loading     bool                `json:"loading"`
	Stale       bool                `json:"stale"`
	LastError   string              `json:"last_error,omitempty"`
	RefreshedAt *time.Time          `json:"refreshed_at,omitempty"`
}

// Session owns one signed-in user's relationship state. The edge list is only ever
// replaced by a successful refresh; mutations never patch it locally.
type Session struct {
	userID     string
	store      Store
	events     EventSource
	repo       *Repository
	guard      *MutationGuard
	dispatcher *Dispatcher
	search     *CandidateSearch
	now        func() time.Time
	log        *observability.SessionLogger

	refreshSeq atomic.Int64

	mu          sync.RWMutex
	signedIn    bool
	closed      bool
	edges       []models.Friendship
	index       RelationIndex
	loading     bool
	stale       bool
	lastErr     error
	refreshedAt *time.Time

	subMu      sync.Mutex
	subs       []Subscription
	subscribed bool
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// NewSession builds a session for cfg.UserID. Call Start to load data and subscribe.
func NewSession(cfg SessionConfig) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		userID:     cfg.UserID,
		store:      cfg.Store,
		events:     cfg.Events,
		repo:       NewRepository(cfg.Store),
		guard:      NewMutationGuard(),
		dispatcher: NewDispatcher(cfg.UserID, cfg.KV, cfg.Center),
		now:        now,
		log:        observability.NewSessionLogger(cfg.UserID),
		signedIn:   cfg.UserID != "",
		edges:      []models.Friendship{},
		index:      RelationIndex{},
	}
	s.search = NewCandidateSearch(cfg.Store, cfg.UserID, cfg.Search)
	return s
}

// UserID returns the identity this session was opened for.
func (s *Session) UserID() string { return s.userID }

// Guard exposes the mutation guard so callers can disable busy actions.
func (s *Session) Guard() *MutationGuard { return s.guard }

// Search returns the session's candidate search context.
func (s *Session) Search() *CandidateSearch { return s.search }

// Dispatcher returns the invite notification dispatcher.
func (s *Session) Dispatcher() *Dispatcher { return s.dispatcher }

// Start seeds the notified set, opens the change-feed subscriptions and performs
// the first refresh. Calling Start again does not open more subscriptions.
func (s *Session) Start(ctx context.Context) error {
	if !s.isLive() {
		return models.NewNotAuthenticatedError()
	}
	if err := s.dispatcher.Load(ctx); err != nil {
		s.log.Warn(ctx, "could not load notified invites", map[string]interface{}{"error": err.Error()})
	}
	if err := s.subscribe(); err != nil {
		s.log.Error(ctx, "change feed subscription failed", err, nil)
	}
	return s.Refresh(ctx)
}

func (s *Session) subscribe() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subscribed || s.events == nil {
		return nil
	}
	subCtx, cancel := context.WithCancel(context.Background())
	handler := func(change models.FriendshipChange) {
		if !s.isLive() {
			return
		}
		if err := s.Refresh(subCtx); err != nil && !errors.Is(err, context.Canceled) {
			observability.LogAsyncOperationError(subCtx, "friends.change_refresh", err, map[string]interface{}{
				"user_id": s.userID,
				"change":  string(change.Type),
			})
		}
	}

	var subs []Subscription
	for _, role := range []models.OwnerRole{models.OwnerRequester, models.OwnerAddressee} {
		sub, err := s.events.Subscribe(subCtx, models.OwnerFilter{Role: role, UserID: s.userID}, handler)
		if err != nil {
			for _, opened := range subs {
				_ = opened.Close()
			}
			cancel()
			return err
		}
		subs = append(subs, sub)
	}
	s.subs = subs
	s.cancel = cancel
	s.subscribed = true
	return nil
}

func (s *Session) unsubscribe() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if !s.subscribed {
		return
	}
	// cancel first so a handler blocked in a refresh returns promptly
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for _, sub := range s.subs {
		if err := sub.Close(); err != nil {
			s.log.Warn(context.Background(), "closing change feed subscription", map[string]interface{}{"error": err.Error()})
		}
	}
	s.subs = nil
	s.subscribed = false
}

// Close tears down subscriptions and the search timer exactly once. Completions of
// in-flight calls that land afterwards are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.unsubscribe()
		s.search.Stop()
	})
}

// SignOut closes the session and forgets the in-memory notified set.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.signedIn = false
	s.mu.Unlock()
	s.Close()
	s.dispatcher.Reset()
}

func (s *Session) isLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signedIn && !s.closed
}

// Refresh reloads the edge list and recomputes the index. On failure the previous
// list is kept and marked stale, and the error is returned to the caller.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.isLive() {
		return models.NewNotAuthenticatedError()
	}
	span, ctx := observability.NewSpan(ctx, "friends.refresh", attribute.String("user.id", s.userID))
	defer span.End()

	seq := s.refreshSeq.Add(1)
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	edges, err := s.repo.Refresh(ctx, s.userID)

	s.mu.Lock()
	if s.closed || !s.signedIn {
		s.mu.Unlock()
		return nil
	}
	if seq != s.refreshSeq.Load() {
		// a newer refresh owns the state now
		s.mu.Unlock()
		observability.FriendRefreshes.WithLabelValues("superseded").Inc()
		return err
	}
	s.loading = false
	if err != nil {
		s.stale = true
		s.lastErr = err
		s.mu.Unlock()
		span.SetError(err)
		observability.FriendRefreshes.WithLabelValues("error").Inc()
		s.log.Error(ctx, "relationship refresh failed, keeping previous list", err, map[string]interface{}{
			"edges": len(s.edges),
		})
		return err
	}
	now := s.now()
	s.edges = edges
	s.index = BuildIndex(edges, s.userID)
	s.stale = false
	s.lastErr = nil
	s.refreshedAt = &now
	s.mu.Unlock()
	observability.FriendRefreshes.WithLabelValues("ok").Inc()

	if _, derr := s.dispatcher.HandleRefresh(ctx, edges); derr != nil {
		s.log.Warn(ctx, "invite notification dispatch failed", map[string]interface{}{"error": derr.Error()})
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := make([]models.Friendship, len(s.edges))
	copy(edges, s.edges)
	index := make(RelationIndex, len(s.index))
	for k, v := range s.index {
		index[k] = v
	}
	snap := Snapshot{
		UserID:      s.userID,
		Friendships: edges,
		Relations:   index,
		Loading:     s.loading,
		Stale:       s.stale,
		RefreshedAt: s.refreshedAt,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Relation returns the classification of otherID.
func (s *Session) Relation(otherID string) (RelationEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Lookup(otherID)
}

// Friends returns accepted edges.
func (s *Session) Friends() []models.Friendship { return s.filter(isFriend) }

// Incoming returns pending invites addressed to the user.
func (s *Session) Incoming() []models.Friendship { return s.filter(isIncoming) }

// Outgoing returns pending invites the user sent.
func (s *Session) Outgoing() []models.Friendship { return s.filter(isOutgoing) }

// Acceptances returns invites the user sent that were accepted and not yet dismissed.
func (s *Session) Acceptances() []models.Friendship { return s.filter(isUnacknowledgedAcceptance) }

func (s *Session) filter(keep edgeFilter) []models.Friendship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectEdges(s.edges, s.userID, keep)
}

// Friends returns the accepted edges of the snapshot.
func (snap Snapshot) Friends() []models.Friendship {
	return selectEdges(snap.Friendships, snap.UserID, isFriend)
}

// Incoming returns the snapshot's pending invites addressed to its user.
func (snap Snapshot) Incoming() []models.Friendship {
	return selectEdges(snap.Friendships, snap.UserID, isIncoming)
}

// Outgoing returns the snapshot's pending invites sent by its user.
func (snap Snapshot) Outgoing() []models.Friendship {
	return selectEdges(snap.Friendships, snap.UserID, isOutgoing)
}

// Acceptances returns the snapshot's accepted invites its user has not dismissed.
func (snap Snapshot) Acceptances() []models.Friendship {
	return selectEdges(snap.Friendships, snap.UserID, isUnacknowledgedAcceptance)
}

type edgeFilter func(f *models.Friendship, me string) bool

func isFriend(f *models.Friendship, _ string) bool {
	return f.Status == models.FriendshipStatusAccepted
}

func isIncoming(f *models.Friendship, me string) bool {
	return f.Status == models.FriendshipStatusPending && f.AddresseeID == me
}

func isOutgoing(f *models.Friendship, me string) bool {
	return f.Status == models.FriendshipStatusPending && f.RequesterID == me
}

func isUnacknowledgedAcceptance(f *models.Friendship, me string) bool {
	return f.Status == models.FriendshipStatusAccepted && f.RequesterID == me && !f.RequesterAcknowledged
}

func selectEdges(edges []models.Friendship, me string, keep edgeFilter) []models.Friendship {
	out := []models.Friendship{}
	for i := range edges {
		if keep(&edges[i], me) {
			out = append(out, edges[i])
		}
	}
	return out
}

func (s *Session) edgeByID(friendshipID string) (models.Friendship, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.edges {
		if e.ID == friendshipID {
			return e, true
		}
	}
	return models.Friendship{}, false
}

// requireEdge checks an edge-keyed operation against the session's edges before any
// write. An id the session does not know yet triggers one refresh. The caller's role
// is not checked here; the owner filter on the write enforces it.
func (s *Session) requireEdge(ctx context.Context, op, friendshipID string, check func(*models.Friendship) error) error {
	if !s.isLive() {
		return models.NewNotAuthenticatedError()
	}
	edge, ok := s.edgeByID(friendshipID)
	if !ok {
		if err := s.Refresh(ctx); err != nil {
			return err
		}
		edge, ok = s.edgeByID(friendshipID)
	}
	var err error
	if !ok {
		err = models.NewNotFoundError("Friendship", friendshipID)
	} else {
		err = check(&edge)
	}
	if err != nil {
		observability.FriendMutations.WithLabelValues(op, "rejected").Inc()
	}
	return err
}

func requirePending(f *models.Friendship) error {
	if f.Status != models.FriendshipStatusPending {
		return models.NewInvalidStateError("This invite is no longer pending")
	}
	return nil
}

func requireAccepted(f *models.Friendship) error {
	if f.Status != models.FriendshipStatusAccepted {
		return models.NewInvalidStateError("This friendship has not been accepted")
	}
	return nil
}

// IsBusy reports whether a mutation on key is in flight.
func (s *Session) IsBusy(key MutationKey) bool {
	return s.guard.IsBusy(key)
}

// mutate runs one lifecycle operation: auth check, guard, mutation, refresh, release.
func (s *Session) mutate(ctx context.Context, op string, key MutationKey, do func(ctx context.Context) (int64, error)) (err error) {
	if !s.isLive() {
		return models.NewNotAuthenticatedError()
	}
	if !s.guard.Begin(key) {
		observability.FriendMutations.WithLabelValues(op, "busy").Inc()
		return models.NewMutationInFlightError(string(key))
	}
	defer s.guard.End(key)

	span, ctx := observability.NewSpan(ctx, "friends."+op,
		attribute.String("user.id", s.userID),
		attribute.String("mutation.key", string(key)),
	)
	defer func() {
		span.SetError(err)
		span.End()
		observability.FriendMutations.WithLabelValues(op, observability.Outcome(err)).Inc()
	}()

	rows, err := do(ctx)
	if err != nil {
		err = asNetworkError(err)
		s.log.Error(ctx, "friendship mutation failed", err, map[string]interface{}{
			"operation": op,
			"key":       string(key),
		})
		return err
	}
	if rows == 0 {
		s.log.Info(ctx, "friendship mutation matched no rows", map[string]interface{}{
			"operation": op,
			"key":       string(key),
		})
	}

	if rerr := s.Refresh(ctx); rerr != nil {
		s.log.Warn(ctx, "refresh after mutation failed", map[string]interface{}{
			"operation": op,
			"error":     rerr.Error(),
		})
	}
	return nil
}

// SendInvite creates a pending edge from the user to targetID. Index-based
// rejections happen before any network call.
func (s *Session) SendInvite(ctx context.Context, targetID string) error {
	if !s.isLive() {
		return models.NewNotAuthenticatedError()
	}
	if targetID == "" {
		return models.NewValidationError("A target user is required")
	}
	if targetID == s.userID {
		return models.NewValidationError("You cannot invite yourself")
	}
	s.mu.RLock()
	rejection := s.index.CanInvite(targetID)
	s.mu.RUnlock()
	if rejection != nil {
		observability.FriendMutations.WithLabelValues("send_invite", "rejected").Inc()
		return rejection
	}

	return s.mutate(ctx, "send_invite", UserKey(targetID), func(ctx context.Context) (int64, error) {
		if _, err := s.store.InsertEdge(ctx, s.userID, targetID); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

// CancelInvite deletes a pending invite the user sent.
func (s *Session) CancelInvite(ctx context.Context, friendshipID string) error {
	if err := s.requireEdge(ctx, "cancel_invite", friendshipID, requirePending); err != nil {
		return err
	}
	return s.mutate(ctx, "cancel_invite", FriendshipKey(friendshipID), func(ctx context.Context) (int64, error) {
		return s.store.DeleteEdge(ctx, friendshipID, s.owner(models.OwnerRequester, models.FriendshipStatusPending))
	})
}

// AcceptInvite accepts a pending invite addressed to the user.
func (s *Session) AcceptInvite(ctx context.Context, friendshipID string) error {
	if err := s.requireEdge(ctx, "accept_invite", friendshipID, requirePending); err != nil {
		return err
	}
	return s.mutate(ctx, "accept_invite", FriendshipKey(friendshipID), func(ctx context.Context) (int64, error) {
		status := models.FriendshipStatusAccepted
		respondedAt := s.now().UTC()
		requesterAck, addresseeAck := false, true
		return s.store.UpdateEdge(ctx, friendshipID, models.EdgeUpdate{
			Status:                &status,
			RespondedAt:           &respondedAt,
			RequesterAcknowledged: &requesterAck,
			AddresseeAcknowledged: &addresseeAck,
		}, s.owner(models.OwnerAddressee, models.FriendshipStatusPending))
	})
}

// DeclineInvite deletes a pending invite addressed to the user.
func (s *Session) DeclineInvite(ctx context.Context, friendshipID string) error {
	if err := s.requireEdge(ctx, "decline_invite", friendshipID, requirePending); err != nil {
		return err
	}
	return s.mutate(ctx, "decline_invite", FriendshipKey(friendshipID), func(ctx context.Context) (int64, error) {
		return s.store.DeleteEdge(ctx, friendshipID, s.owner(models.OwnerAddressee, models.FriendshipStatusPending))
	})
}

// RemoveFriend deletes an accepted edge from either side.
func (s *Session) RemoveFriend(ctx context.Context, friendshipID string) error {
	if err := s.requireEdge(ctx, "remove_friend", friendshipID, requireAccepted); err != nil {
		return err
	}
	return s.mutate(ctx, "remove_friend", FriendshipKey(friendshipID), func(ctx context.Context) (int64, error) {
		return s.store.DeleteEdge(ctx, friendshipID, s.owner(models.OwnerEither, models.FriendshipStatusAccepted))
	})
}

// AcknowledgeNotification dismisses the "invite accepted" entry for the requester.
func (s *Session) AcknowledgeNotification(ctx context.Context, friendshipID string) error {
	err := s.requireEdge(ctx, "acknowledge", friendshipID, func(f *models.Friendship) error {
		if err := requireAccepted(f); err != nil {
			return err
		}
		if f.RequesterID == s.userID && f.RequesterAcknowledged {
			return models.NewInvalidStateError("This acceptance was already dismissed")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.mutate(ctx, "acknowledge", FriendshipKey(friendshipID), func(ctx context.Context) (int64, error) {
		ack := true
		return s.store.UpdateEdge(ctx, friendshipID, models.EdgeUpdate{
			RequesterAcknowledged: &ack,
		}, s.owner(models.OwnerRequester, models.FriendshipStatusAccepted))
	})
}

func (s *Session) owner(role models.OwnerRole, status models.FriendshipStatus) models.OwnerFilter {
	return models.OwnerFilter{Role: role, UserID: s.userID, Status: status}
}
