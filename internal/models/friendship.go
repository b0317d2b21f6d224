// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FriendshipStatus represents the status of a friendship edge.
type FriendshipStatus string

const (
	// FriendshipStatusPending indicates an invite waiting on the addressee.
	FriendshipStatusPending FriendshipStatus = "pending"
	// FriendshipStatusAccepted indicates an accepted invite.
	FriendshipStatusAccepted FriendshipStatus = "accepted"
	// FriendshipStatusDeclined is a legacy status kept for classification only.
	FriendshipStatusDeclined FriendshipStatus = "declined"
	// FriendshipStatusBlocked is a legacy status kept for classification only.
	FriendshipStatusBlocked FriendshipStatus = "blocked"
)

// DeletedUserName is the display name used when a party's profile no longer exists.
const DeletedUserName = "Deleted user"

// Friendship represents a friendship edge between two users.
// Direction only matters for who may cancel versus who may accept.
type Friendship struct {
	ID                    string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RequesterID           string           `gorm:"not null;uniqueIndex:idx_friendship_users;index:idx_friendships_requester" json:"requester_id"`
	AddresseeID           string           `gorm:"not null;uniqueIndex:idx_friendship_users;index:idx_friendships_addressee" json:"addressee_id"`
	Status                FriendshipStatus `gorm:"type:varchar(20);default:'pending';index:idx_friendships_status" json:"status"`
	CreatedAt             time.Time        `json:"created_at"`
	RespondedAt           *time.Time       `json:"responded_at"`
	RequesterAcknowledged bool             `gorm:"not null;default:false" json:"requester_acknowledged"`
	AddresseeAcknowledged bool             `gorm:"not null;default:false" json:"addressee_acknowledged"`

	// Profile snapshots, filled in by the relationship repository.
	Requester *ProfileSummary `gorm:"-" json:"requester"`
	Addressee *ProfileSummary `gorm:"-" json:"addressee"`
}

// TableName specifies the table name for GORM
func (Friendship) TableName() string {
	return "friendships"
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (f *Friendship) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// OtherParty returns the id of the user on the other side of the edge from userID.
func (f *Friendship) OtherParty(userID string) string {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// Involves reports whether userID is either party of the edge.
func (f *Friendship) Involves(userID string) bool {
	return f.RequesterID == userID || f.AddresseeID == userID
}

// ProfileSummary is the subset of a user profile the relationship subsystem reads.
type ProfileSummary struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username  *string   `gorm:"uniqueIndex" json:"username"`
	FullName  *string   `gorm:"index" json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"-"`
}

// TableName specifies the table name for GORM
func (ProfileSummary) TableName() string {
	return "profiles"
}

// PlaceholderProfile stands in for a party whose profile row is gone.
func PlaceholderProfile(id string) *ProfileSummary {
	name := DeletedUserName
	return &ProfileSummary{ID: id, FullName: &name}
}

// DisplayName prefers the full name, then the username.
func (p *ProfileSummary) DisplayName() string {
	if p == nil {
		return "Someone"
	}
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	if p.Username != nil && *p.Username != "" {
		return *p.Username
	}
	return "Someone"
}

// OwnerRole names which side of an edge a mutation is scoped to.
type OwnerRole string

const (
	OwnerRequester OwnerRole = "requester"
	OwnerAddressee OwnerRole = "addressee"
	OwnerEither    OwnerRole = "either"
)

// OwnerFilter scopes a delete or update to edges owned by UserID in the given role.
// A non-empty Status additionally requires the edge to be in that status. A
// mismatched filter matches zero rows. Change-feed subscriptions ignore Status.
type OwnerFilter struct {
	Role   OwnerRole
	UserID string
	Status FriendshipStatus
}

// EdgeUpdate lists the fields an update may set. Nil fields are left untouched.
type EdgeUpdate struct {
	Status                *FriendshipStatus
	RespondedAt           *time.Time
	RequesterAcknowledged *bool
	AddresseeAcknowledged *bool
}

// Columns converts the update into a column map for the store.
func (u EdgeUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.RespondedAt != nil {
		cols["responded_at"] = *u.RespondedAt
	}
	if u.RequesterAcknowledged != nil {
		cols["requester_acknowledged"] = *u.RequesterAcknowledged
	}
	if u.AddresseeAcknowledged != nil {
		cols["addressee_acknowledged"] = *u.AddresseeAcknowledged
	}
	return cols
}

// ChangeType is the kind of row change carried by the real-time feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// FriendshipChange is one row-level event on the friendships table.
type FriendshipChange struct {
	Type ChangeType  `json:"type"`
	Old  *Friendship `json:"old,omitempty"`
	New  *Friendship `json:"new,omitempty"`
}

// Row returns whichever side of the change is present, preferring New.
func (c FriendshipChange) Row() *Friendship {
	if c.New != nil {
		return c.New
	}
	return c.Old
}
