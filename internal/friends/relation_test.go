package friends

import (
	"testing"

	"fitsocial/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edge(id, requester, addressee string, status models.FriendshipStatus) models.Friendship {
	return models.Friendship{ID: id, RequesterID: requester, AddresseeID: addressee, Status: status}
}

func TestBuildIndex_Classification(t *testing.T) {
	edges := []models.Friendship{
		edge("f1", "me", "a", models.FriendshipStatusAccepted),
		edge("f2", "b", "me", models.FriendshipStatusAccepted),
		edge("f3", "me", "c", models.FriendshipStatusPending),
		edge("f4", "d", "me", models.FriendshipStatusPending),
		edge("f5", "e", "me", models.FriendshipStatusDeclined),
		edge("f6", "me", "g", models.FriendshipStatusBlocked),
	}

	index := BuildIndex(edges, "me")

	assert.Equal(t, RelationIndex{
		"a": {Type: RelationFriend, FriendshipID: "f1"},
		"b": {Type: RelationFriend, FriendshipID: "f2"},
		"c": {Type: RelationOutgoing, FriendshipID: "f3"},
		"d": {Type: RelationIncoming, FriendshipID: "f4"},
		"e": {Type: RelationDeclined, FriendshipID: "f5"},
		"g": {Type: RelationBlocked, FriendshipID: "f6"},
	}, index)
}

func TestBuildIndex_TotalOverOtherParties(t *testing.T) {
	statuses := []models.FriendshipStatus{
		models.FriendshipStatusPending,
		models.FriendshipStatusAccepted,
		models.FriendshipStatusDeclined,
		models.FriendshipStatusBlocked,
	}
	var edges []models.Friendship
	others := map[string]struct{}{}
	for i := 0; i < 40; i++ {
		other := string(rune('A' + i%26))
		if i >= 26 {
			other += "2"
		}
		requester, addressee := "me", other
		if i%2 == 1 {
			requester, addressee = other, "me"
		}
		edges = append(edges, edge("f"+other, requester, addressee, statuses[i%len(statuses)]))
		others[other] = struct{}{}
	}
	// an edge that does not touch me contributes nothing
	edges = append(edges, edge("stray", "x", "y", models.FriendshipStatusAccepted))

	index := BuildIndex(edges, "me")

	require.Len(t, index, len(others))
	for other := range others {
		entry, ok := index[other]
		require.True(t, ok, "missing entry for %s", other)
		assert.Equal(t, "f"+other, entry.FriendshipID)
	}
	_, ok := index["x"]
	assert.False(t, ok)
}

func TestBuildIndex_EmptyInput(t *testing.T) {
	assert.Empty(t, BuildIndex(nil, "me"))
}

func TestRelationIndex_CanInvite(t *testing.T) {
	index := RelationIndex{
		"friend":   {Type: RelationFriend},
		"outgoing": {Type: RelationOutgoing},
		"incoming": {Type: RelationIncoming},
		"blocked":  {Type: RelationBlocked},
		"declined": {Type: RelationDeclined},
	}

	tests := []struct {
		target string
		code   string
	}{
		{"friend", models.CodeAlreadyFriends},
		{"outgoing", models.CodeAlreadyPending},
		{"incoming", models.CodeHasIncomingInvite},
		{"blocked", models.CodeBlocked},
		{"declined", ""},
		{"stranger", ""},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			err := index.CanInvite(tt.target)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, models.ErrorCode(err))
		})
	}
}
