package changefeed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisChannelPrefix = "conversations:"

func redisChannel(userID uuid.UUID) string {
	return redisChannelPrefix + userID.String()
}

// RedisFeed subscribes to the per-account pub/sub channel. Messages are only
// published to the owning account's channel.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Subscribe(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	channel := redisChannel(userID)
	pubsub := f.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation before reporting success.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := newSubscription()
	sub.run(func() error {
		defer pubsub.Close()

		if !sub.subscribed() {
			return nil
		}
		for {
			msg, err := pubsub.ReceiveMessage(sub.ctx)
			if err != nil {
				return fmt.Errorf("failed to receive message: %w", err)
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed change event")
				continue
			}
			if !sub.event(ev) {
				return nil
			}
		}
	})

	return sub, nil
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID uuid.UUID, ev models.ChangeEvent) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, redisChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

var (
	_ Feed      = (*RedisFeed)(nil)
	_ Publisher = (*RedisPublisher)(nil)
)
