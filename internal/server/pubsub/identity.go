// Package pubsub announces identity changes (sign-in, sign-out, password
// reset) on a Redis channel so other processes can react to them.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/redis/go-redis/v9"
)

// IdentityEvent is the payload published on common.IdentityChangedChannel.
// SignedIn false means the user no longer has a session.
type IdentityEvent struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	SignedIn    bool   `json:"signed_in"`
}

// IdentityPublisher publishes identity-changed events.
type IdentityPublisher interface {
	PublishIdentityChanged(ctx context.Context, ev IdentityEvent) error
}

type RedisPublisher struct {
	client redis.Cmdable
}

func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishIdentityChanged(ctx context.Context, ev IdentityEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, common.IdentityChangedChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

// NopPublisher drops every event. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishIdentityChanged(context.Context, IdentityEvent) error { return nil }

// Subscribe delivers identity events until ctx is cancelled. Messages that
// are not valid events are passed to onBad, which may be nil.
func Subscribe(ctx context.Context, client *redis.Client, onBad func(payload string, err error)) <-chan IdentityEvent {
	sub := client.Subscribe(ctx, common.IdentityChangedChannel)
	out := make(chan IdentityEvent)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev IdentityEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					if onBad != nil {
						onBad(msg.Payload, err)
					}
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
