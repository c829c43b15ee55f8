package permcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the pub/sub channel invalidations are published on
const DefaultChannel = "breeze:authz:invalidate"

// Invalidation is the message exchanged between instances
type Invalidation struct {
	Origin       string  `json:"origin"`
	All          bool    `json:"all,omitempty"`
	PrincipalIDs []int64 `json:"principal_ids,omitempty"`
}

// Broadcaster publishes local invalidations over Redis pub/sub and delivers
// invalidations published by other instances
type Broadcaster struct {
	client  *redis.Client
	channel string
	origin  string
	logger  logrus.FieldLogger
}

// NewBroadcaster creates a broadcaster with a random instance identity
func NewBroadcaster(client *redis.Client, channel string, logger logrus.FieldLogger) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	origin := uuid.NewString()
	return &Broadcaster{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger.WithFields(logrus.Fields{"component": "permcache_broadcast", "origin": origin}),
	}
}

// Origin returns this instance's identity
func (b *Broadcaster) Origin() string {
	return b.origin
}

// Publish sends an invalidation to the other instances
func (b *Broadcaster) Publish(ctx context.Context, all bool, principalIDs ...int64) error {
	msg := Invalidation{Origin: b.origin, All: all, PrincipalIDs: principalIDs}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and calls apply for every invalidation
// from another instance. The subscription is active when Listen returns; it
// ends when ctx is done or the returned stop function is called.
func (b *Broadcaster) Listen(ctx context.Context, apply func(Invalidation)) (stop func() error, err error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(m.Payload), &inv); err != nil {
					b.logger.WithError(err).Warn("discarding malformed invalidation message")
					continue
				}
				if inv.Origin == b.origin {
					continue
				}
				apply(inv)
			}
		}
	}()

	b.logger.WithField("channel", b.channel).Info("listening for remote invalidations")

	return func() error {
		err := pubsub.Close()
		<-done
		return err
	}, nil
}
