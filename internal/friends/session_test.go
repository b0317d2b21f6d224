package friends

import (
	"context"
	"testing"
	"time"

	"fitsocial/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestSession(t *testing.T, userID string, store *memoryStore) (*Session, *fakeEvents, *recordingCenter) {
	t.Helper()
	events := &fakeEvents{}
	center := &recordingCenter{grant: true}
	s := NewSession(SessionConfig{
		UserID: userID,
		Store:  store,
		Events: events,
		KV:     newMemoryKV(),
		Center: center,
		Now:    func() time.Time { return fixedNow },
	})
	t.Cleanup(s.Close)
	return s, events, center
}

func TestSession_InviteAcceptScenario(t *testing.T) {
	store := newMemoryStore(profile("u1", "one", "User One"), profile("u2", "two", "User Two"))
	ctx := context.Background()

	u1, _, _ := newTestSession(t, "u1", store)
	require.NoError(t, u1.Start(ctx))

	require.NoError(t, u1.SendInvite(ctx, "u2"))
	entry, ok := u1.Relation("u2")
	require.True(t, ok)
	assert.Equal(t, RelationOutgoing, entry.Type)
	require.Len(t, u1.Outgoing(), 1)
	friendshipID := entry.FriendshipID

	u2, _, center := newTestSession(t, "u2", store)
	require.NoError(t, u2.Start(ctx))
	entry, ok = u2.Relation("u1")
	require.True(t, ok)
	assert.Equal(t, RelationIncoming, entry.Type)
	assert.Equal(t, 1, center.count())
	assert.Equal(t, "User One sent you a request.", center.presented[0].Body)

	require.NoError(t, u2.AcceptInvite(ctx, friendshipID))
	stored, ok := store.edge(friendshipID)
	require.True(t, ok)
	assert.Equal(t, models.FriendshipStatusAccepted, stored.Status)
	require.NotNil(t, stored.RespondedAt)
	assert.Equal(t, fixedNow, *stored.RespondedAt)
	assert.False(t, stored.RequesterAcknowledged)
	assert.True(t, stored.AddresseeAcknowledged)

	require.NoError(t, u1.Refresh(ctx))
	entry, _ = u1.Relation("u2")
	assert.Equal(t, RelationFriend, entry.Type)
	entry, _ = u2.Relation("u1")
	assert.Equal(t, RelationFriend, entry.Type)

	require.Len(t, u1.Acceptances(), 1)
	require.NoError(t, u1.AcknowledgeNotification(ctx, friendshipID))
	assert.Empty(t, u1.Acceptances())
	assert.Len(t, u1.Friends(), 1)
}

func TestSession_SendInviteRejectedLocally(t *testing.T) {
	store := newMemoryStore()
	store.seed(
		edge("p", "me", "pending", models.FriendshipStatusPending),
		edge("i", "incoming", "me", models.FriendshipStatusPending),
		edge("a", "me", "friend", models.FriendshipStatusAccepted),
		edge("b", "me", "blocked", models.FriendshipStatusBlocked),
	)
	s, _, _ := newTestSession(t, "me", store)
	require.NoError(t, s.Start(context.Background()))

	tests := []struct {
		target string
		code   string
	}{
		{"pending", models.CodeAlreadyPending},
		{"incoming", models.CodeHasIncomingInvite},
		{"friend", models.CodeAlreadyFriends},
		{"blocked", models.CodeBlocked},
		{"me", models.CodeValidation},
		{"", models.CodeValidation},
	}
	for _, tt := range tests {
		err := s.SendInvite(context.Background(), tt.target)
		assert.Equal(t, tt.code, models.ErrorCode(err), tt.target)
	}
	assert.Zero(t, store.insertCalls)
}

func TestSession_SendInviteDuplicateFromStore(t *testing.T) {
	store := newMemoryStore()
	store.insertErr = models.NewAlreadyPendingError()
	s, _, _ := newTestSession(t, "me", store)
	require.NoError(t, s.Start(context.Background()))

	err := s.SendInvite(context.Background(), "other")
	assert.Equal(t, models.CodeAlreadyPending, models.ErrorCode(err))
	assert.False(t, s.IsBusy(UserKey("other")))
}

func TestSession_AcceptByNonAddresseeChangesNothing(t *testing.T) {
	store := newMemoryStore()
	store.seed(edge("f1", "me", "other", models.FriendshipStatusPending))
	s, _, _ := newTestSession(t, "me", store)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.AcceptInvite(context.Background(), "f1"))

	assert.Equal(t, models.OwnerFilter{Role: models.OwnerAddressee, UserID: "me", Status: models.FriendshipStatusPending}, store.lastOwner)
	stored, ok := store.edge("f1")
	require.True(t, ok)
	assert.Equal(t, models.FriendshipStatusPending, stored.Status)
	assert.Nil(t, stored.RespondedAt)
}

func TestSession_OwnerFilters(t *testing.T) {
	store := newMemoryStore()
	store.seed(
		edge("out", "me", "a", models.FriendshipStatusPending),
		edge("in", "b", "me", models.FriendshipStatusPending),
		edge("friend", "c", "me", models.FriendshipStatusAccepted),
	)
	s, _, _ := newTestSession(t, "me", store)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.CancelInvite(ctx, "out"))
	assert.Equal(t, models.OwnerRequester, store.lastOwner.Role)

	require.NoError(t, s.DeclineInvite(ctx, "in"))
	assert.Equal(t, models.OwnerAddressee, store.lastOwner.Role)

	require.NoError(t, s.RemoveFriend(ctx, "friend"))
	assert.Equal(t, models.OwnerEither, store.lastOwner.Role)

	assert.Empty(t, s.Snapshot().Friendships)
	assert.Empty(t, s.Snapshot().Relations)
}

func TestSession_GuardBusyDuringMutation(t *testing.T) {
	store := newMemoryStore()
	store.seed(edge("f1", "other", "me", models.FriendshipStatusPending))
	s, _, _ := newTestSession(t, "me", store)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	store.block = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.AcceptInvite(ctx, "f1") }()

	assert.Eventually(t, func() bool { return s.IsBusy(FriendshipKey("f1")) }, time.Second, time.Millisecond)
	err := s.DeclineInvite(ctx, "f1")
	assert.Equal(t, models.CodeMutationInFlight, models.ErrorCode(err))

	close(store.block)
	require.NoError(t, <-done)
	assert.False(t, s.IsBusy(FriendshipKey("f1")))
}

func TestSession_GuardReleasedOnFailure(t *testing.T) {
	store := newMemoryStore()
	store.insertErr = errTransport
	s, _, _ := newTestSession(t, "me", store)
	require.NoError(t, s.Start(context.Background()))

	err := s.SendInvite(context.Background(), "other")
	assert.Equal(t, models.CodeNetwork, models.ErrorCode(err))
	assert.False(t, s.IsBusy(UserKey("other")))
	assert.Empty(t, s.Guard().Busy())
}

func TestSession_RefreshFailureKeepsPreviousList(t *testing.T) {
	store := newMemoryStore()
	store.seed(edge("f1", "me", "a", models.FriendshipStatusAccepted))
	s, _, _ := newTestSession(t, "me", store)
	require.NoError(t, s.Start(context.Background()))

	store.mu.Lock()
	store.queryEdgesErr = errTransport
	store.mu.Unlock()

	err := s.Refresh(context.Background())
	assert.Equal(t, models.CodeNetwork, models.ErrorCode(err))

	snap := s.Snapshot()
	assert.True(t, snap.Stale)
	assert.NotEmpty(t, snap.LastError)
	require.Len(t, snap.Friendships, 1)
	assert.Equal(t, "f1", snap.Friendships[0].ID)
	assert.False(t, snap.Loading)
}

func TestSession_SubscribesOnceAndClosesOnce(t *testing.T) {
	s, events, _ := newTestSession(t, "me", newMemoryStore())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 2, events.opened, "one subscription per side")

	s.Close()
	s.Close()
	assert.Equal(t, 2, events.closed)
}

func TestSession_ChangeFeedTriggersRefresh(t *testing.T) {
	store := newMemoryStore(profile("other", "other", ""))
	s, events, center := newTestSession(t, "me", store)
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Incoming())

	store.seed(edge("f9", "other", "me", models.FriendshipStatusPending))
	stored, _ := store.edge("f9")
	events.emit(models.FriendshipChange{Type: models.ChangeInsert, New: &stored})

	require.Len(t, s.Incoming(), 1)
	assert.Equal(t, 1, center.count())
}

func TestSession_SignOut(t *testing.T) {
	store := newMemoryStore()
	s, events, _ := newTestSession(t, "me", store)
	require.NoError(t, s.Start(context.Background()))

	s.SignOut()
	assert.Equal(t, 2, events.closed)

	assert.Equal(t, models.CodeNotAuthenticated, models.ErrorCode(s.SendInvite(context.Background(), "x")))
	assert.Equal(t, models.CodeNotAuthenticated, models.ErrorCode(s.AcceptInvite(context.Background(), "f1")))
	assert.Equal(t, models.CodeNotAuthenticated, models.ErrorCode(s.Refresh(context.Background())))
	assert.Zero(t, store.updateCalls)
}

func TestSession_NoUserIsNotAuthenticated(t *testing.T) {
	s := NewSession(SessionConfig{Store: newMemoryStore()})
	defer s.Close()

	err := s.Start(context.Background())
	assert.Equal(t, models.CodeNotAuthenticated, models.ErrorCode(err))
}

func TestSession_AcceptTwiceIsRejected(t *testing.T) {
	store := newMemoryStore()
	store.seed(edge("f1", "other", "me", models.FriendshipStatusPending))
	s, _, _ := newTestSession(t, "me", store)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.AcceptInvite(ctx, "f1"))
	updates := store.updateCalls

	err := s.AcceptInvite(ctx, "f1")
	assert.Equal(t, models.CodeInvalidState, models.ErrorCode(err))
	assert.Equal(t, updates, store.updateCalls)
	assert.False(t, s.IsBusy(FriendshipKey("f1")))

	stored, _ := store.edge("f1")
	assert.Equal(t, models.FriendshipStatusAccepted, stored.Status)
}

func TestSession_AcceptAgainKeepsAcknowledgement(t *testing.T) {
	store := newMemoryStore()
	store.seed(edge("f1", "u1", "u2", models.FriendshipStatusPending))
	ctx := context.Background()

	u2, _, _ := newTestSession(t, "u2", store)
	require.NoError(t, u2.Start(ctx))
	require.NoError(t, u2.AcceptInvite(ctx, "f1"))

	u1, _, _ := newTestSession(t, "u1", store)
	require.NoError(t, u1.Start(ctx))
	require.NoError(t, u1.AcknowledgeNotification(ctx, "f1"))
	assert.Empty(t, u1.Acceptances())

	assert.Equal(t, models.CodeInvalidState, models.ErrorCode(u2.AcceptInvite(ctx, "f1")))
	assert.Equal(t, models.CodeInvalidState, models.ErrorCode(u1.AcknowledgeNotification(ctx, "f1")))

	require.NoError(t, u1.Refresh(ctx))
	assert.Empty(t, u1.Acceptances())
	stored, _ := store.edge("f1")
	assert.True(t, stored.RequesterAcknowledged)
}

func TestSession_EdgeStatusPreconditions(t *testing.T) {
	store := newMemoryStore()
	store.seed(
		edge("out", "me", "a", models.FriendshipStatusPending),
		edge("friend", "me", "b", models.FriendshipStatusAccepted),
		edge("legacy", "c", "me", models.FriendshipStatusDeclined),
	)
	s, _, _ := newTestSession(t, "me", store)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	tests := []struct {
		name string
		op   func(context.Context, string) error
		id   string
	}{
		{"remove pending", s.RemoveFriend, "out"},
		{"acknowledge pending", s.AcknowledgeNotification, "out"},
		{"cancel accepted", s.CancelInvite, "friend"},
		{"decline accepted", s.DeclineInvite, "friend"},
		{"accept declined", s.AcceptInvite, "legacy"},
		{"remove declined", s.RemoveFriend, "legacy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op(ctx, tt.id)
			assert.Equal(t, models.CodeInvalidState, models.ErrorCode(err))
		})
	}
	assert.Zero(t, store.deleteCalls)
	assert.Zero(t, store.updateCalls)
	assert.Len(t, s.Snapshot().Friendships, 3)
}

func TestSession_UnknownFriendshipRefreshesOnce(t *testing.T) {
	store := newMemoryStore()
	s, _, _ := newTestSession(t, "me", store)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	queries := store.queryEdgesCalls

	err := s.AcceptInvite(ctx, "missing")
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
	assert.Equal(t, queries+1, store.queryEdgesCalls)
	assert.Zero(t, store.updateCalls)
}

func TestSession_EdgeMissedByFeedIsFoundAfterRefresh(t *testing.T) {
	store := newMemoryStore()
	s, _, _ := newTestSession(t, "me", store)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	store.seed(edge("late", "other", "me", models.FriendshipStatusPending))
	require.NoError(t, s.AcceptInvite(ctx, "late"))

	stored, _ := store.edge("late")
	assert.Equal(t, models.FriendshipStatusAccepted, stored.Status)
	assert.Len(t, s.Friends(), 1)
}

func TestSnapshot_ProjectionsShareOneEdgeList(t *testing.T) {
	snap := Snapshot{
		UserID: "me",
		Friendships: []models.Friendship{
			edge("f", "me", "a", models.FriendshipStatusAccepted),
			{ID: "acked", RequesterID: "me", AddresseeID: "b", Status: models.FriendshipStatusAccepted, RequesterAcknowledged: true},
			edge("in", "c", "me", models.FriendshipStatusPending),
			edge("out", "me", "d", models.FriendshipStatusPending),
		},
	}

	assert.Len(t, snap.Friends(), 2)
	require.Len(t, snap.Acceptances(), 1)
	assert.Equal(t, "f", snap.Acceptances()[0].ID)
	require.Len(t, snap.Incoming(), 1)
	assert.Equal(t, "in", snap.Incoming()[0].ID)
	require.Len(t, snap.Outgoing(), 1)
	assert.Equal(t, "out", snap.Outgoing()[0].ID)
}
