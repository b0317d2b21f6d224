package friends

import "fitsocial/internal/models"

// RelationType is the current-user-relative label for another user.
type RelationType string

const (
	RelationFriend   RelationType = "friend"
	RelationIncoming RelationType = "incoming"
	RelationOutgoing RelationType = "outgoing"
	RelationDeclined RelationType = "declined"
	RelationBlocked  RelationType = "blocked"
)

// RelationEntry classifies one other user and names the edge it came from.
type RelationEntry struct {
	Type         RelationType `json:"type"`
	FriendshipID string       `json:"friendship_id"`
}

// RelationIndex maps other-user id to its relation entry.
type RelationIndex map[string]RelationEntry

// BuildIndex derives the relation index for me from edges.
// Edges that do not touch me are ignored. If two edges name the same other user,
// the first one in list order wins, which with newest-first input is the newest edge.
func BuildIndex(edges []models.Friendship, me string) RelationIndex {
	index := make(RelationIndex, len(edges))
	for i := range edges {
		edge := &edges[i]
		if !edge.Involves(me) {
			continue
		}
		other := edge.OtherParty(me)
		if _, seen := index[other]; seen {
			continue
		}
		index[other] = RelationEntry{
			Type:         classify(edge, me),
			FriendshipID: edge.ID,
		}
	}
	return index
}

func classify(edge *models.Friendship, me string) RelationType {
	switch edge.Status {
	case models.FriendshipStatusAccepted:
		return RelationFriend
	case models.FriendshipStatusDeclined:
		return RelationDeclined
	case models.FriendshipStatusBlocked:
		return RelationBlocked
	}
	// pending, and anything unknown, reads by direction
	if edge.RequesterID == me {
		return RelationOutgoing
	}
	return RelationIncoming
}

// Lookup returns the entry for otherID, if any.
func (idx RelationIndex) Lookup(otherID string) (RelationEntry, bool) {
	entry, ok := idx[otherID]
	return entry, ok
}

// CanInvite checks whether a new invite to otherID is legal and returns the
// user-presentable reason when it is not.
func (idx RelationIndex) CanInvite(otherID string) error {
	entry, ok := idx[otherID]
	if !ok {
		return nil
	}
	switch entry.Type {
	case RelationFriend:
		return models.NewAlreadyFriendsError()
	case RelationOutgoing:
		return models.NewAlreadyPendingError()
	case RelationIncoming:
		return models.NewHasIncomingInviteError()
	case RelationBlocked:
		return models.NewBlockedError()
	}
	return nil
}
