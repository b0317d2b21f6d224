package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"fitsocial/internal/featureflags"
	"fitsocial/internal/friends"
	"fitsocial/internal/models"
)

const (
	permissionGranted = "granted"
	permissionDenied  = "denied"
)

// PermissionKey is the key holding a user's stored notification decision.
func PermissionKey(userID string) string {
	return "notifications:permission:" + userID
}

// UserPublisher delivers a payload to every device of a user.
type UserPublisher interface {
	PublishUser(ctx context.Context, userID, payload string) error
}

// Envelope is the websocket frame carrying a notification.
type Envelope struct {
	Type    string              `json:"type"`
	Payload models.Notification `json:"payload"`
}

// EncodeNotification renders n as the websocket frame sent to devices.
func EncodeNotification(n models.Notification) ([]byte, error) {
	return json.Marshal(Envelope{Type: n.Data.Type, Payload: n})
}

// Center is the device notification facility for one user. Permission is stored
// per user; without a stored decision the feature flag supplies the default,
// which is then remembered.
type Center struct {
	userID    string
	kv        friends.KeyValue
	flags     *featureflags.Manager
	publisher UserPublisher
}

// NewCenter creates a notification center for userID.
func NewCenter(userID string, kv friends.KeyValue, flags *featureflags.Manager, publisher UserPublisher) *Center {
	return &Center{userID: userID, kv: kv, flags: flags, publisher: publisher}
}

// Permission returns the stored decision, if any.
func (c *Center) Permission(ctx context.Context) (granted, decided bool, err error) {
	raw, found, err := c.kv.Get(ctx, PermissionKey(c.userID))
	if err != nil || !found {
		return false, false, err
	}
	return raw == permissionGranted, true, nil
}

// SetPermission records an explicit decision.
func (c *Center) SetPermission(ctx context.Context, granted bool) error {
	value := permissionDenied
	if granted {
		value = permissionGranted
	}
	return c.kv.Set(ctx, PermissionKey(c.userID), value)
}

// RequestPermission returns the stored decision, or decides from the feature flag
// and stores the result.
func (c *Center) RequestPermission(ctx context.Context) (bool, error) {
	granted, decided, err := c.Permission(ctx)
	if err != nil {
		return false, err
	}
	if decided {
		return granted, nil
	}
	granted = c.flags.Enabled(featureflags.FriendInviteNotifications, c.userID)
	if err := c.SetPermission(ctx, granted); err != nil {
		return false, err
	}
	return granted, nil
}

// Present publishes n to the user's devices.
func (c *Center) Present(ctx context.Context, n models.Notification) error {
	if c.publisher == nil {
		return nil
	}
	payload, err := EncodeNotification(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return c.publisher.PublishUser(ctx, c.userID, string(payload))
}
