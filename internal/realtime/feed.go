// Package realtime carries friendship row changes between processes over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"fitsocial/internal/friends"
	"fitsocial/internal/models"

	"github.com/redis/go-redis/v9"
)

// RequesterChannel carries changes to edges where userID is the requester.
func RequesterChannel(userID string) string {
	return "friendships:requester:" + userID
}

// AddresseeChannel carries changes to edges where userID is the addressee.
func AddresseeChannel(userID string) string {
	return "friendships:addressee:" + userID
}

// ChannelFor maps a subscription filter to its channel. Only requester and
// addressee filters have a channel.
func ChannelFor(filter models.OwnerFilter) (string, error) {
	if filter.UserID == "" {
		return "", fmt.Errorf("filter has no user id")
	}
	switch filter.Role {
	case models.OwnerRequester:
		return RequesterChannel(filter.UserID), nil
	case models.OwnerAddressee:
		return AddresseeChannel(filter.UserID), nil
	}
	return "", fmt.Errorf("unsupported filter role %q", filter.Role)
}

// Feed publishes and subscribes to friendship changes. A Feed with a nil client
// publishes nothing and hands out inert subscriptions.
type Feed struct {
	rdb *redis.Client
}

// NewFeed creates a new Feed instance using the provided Redis client.
func NewFeed(rdb *redis.Client) *Feed {
	return &Feed{rdb: rdb}
}

// PublishChange fans change out to the requester and addressee channels of the row.
func (f *Feed) PublishChange(ctx context.Context, change models.FriendshipChange) error {
	if f.rdb == nil {
		return nil
	}
	row := change.Row()
	if row == nil {
		return nil
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	pipe := f.rdb.Pipeline()
	pipe.Publish(ctx, RequesterChannel(row.RequesterID), payload)
	pipe.Publish(ctx, AddresseeChannel(row.AddresseeID), payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Subscribe starts delivering changes matching filter to handler. The subscription
// is confirmed before Subscribe returns.
func (f *Feed) Subscribe(ctx context.Context, filter models.OwnerFilter, handler func(models.FriendshipChange)) (friends.Subscription, error) {
	channel, err := ChannelFor(filter)
	if err != nil {
		return nil, err
	}
	if f.rdb == nil {
		return &subscription{}, nil
	}

	pubsub := f.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	ch := pubsub.Channel()

	go func() {
		defer close(s.done)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change models.FriendshipChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					log.Printf("realtime: dropping malformed change on %s: %v", msg.Channel, err)
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in friendship change handler: %v\n%s", r, debug.Stack())
						}
					}()
					handler(change)
				}()
			}
		}
	}()

	return s, nil
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Close stops delivery. Calling it again returns the first result.
func (s *subscription) Close() error {
	s.once.Do(func() {
		if s.pubsub == nil {
			return
		}
		s.cancel()
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
