package models

import "fmt"

// NotificationTypeFriendInvite tags notifications about incoming invites.
const NotificationTypeFriendInvite = "friend-invite"

// NotificationData is the routing payload attached to a device notification.
type NotificationData struct {
	Type         string `json:"type"`
	FriendshipID string `json:"friendshipId"`
	From         string `json:"from"`
}

// Notification is what gets handed to the device notification facility.
type Notification struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Data  NotificationData `json:"data"`
}

// NewFriendInviteNotification builds the notification for an incoming invite.
func NewFriendInviteNotification(f *Friendship) Notification {
	return Notification{
		Title: "New friend invite",
		Body:  fmt.Sprintf("%s sent you a request.", f.Requester.DisplayName()),
		Data: NotificationData{
			Type:         NotificationTypeFriendInvite,
			FriendshipID: f.ID,
			From:         f.RequesterID,
		},
	}
}
