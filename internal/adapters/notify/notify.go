// Package notify publishes reward notifications for downstream consumers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/okian/kudos/pkg/logger"
	"github.com/okian/kudos/pkg/metrics"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "kudos:rewards"

// ErrPublish is returned when a notification could not be delivered.
var ErrPublish = errors.New("notify: publish failed")

// Reward is the payload sent after an event produced xp or unlocks.
type Reward struct {
	EventID     string    `json:"eventId"`
	UserID      string    `json:"userId"`
	XPGained    int64     `json:"xpGained"`
	Unlocked    []string  `json:"unlocked"`
	Level       int       `json:"level"`
	ProcessedAt time.Time `json:"processedAt"`
}

// Empty reports whether the reward carries nothing worth announcing.
func (r Reward) Empty() bool { return r.XPGained == 0 && len(r.Unlocked) == 0 }

// Publisher delivers reward notifications.
type Publisher interface {
	Publish(ctx context.Context, r Reward) error
	Close() error
}

// Nop discards every notification.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Reward) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// RedisPublisher publishes JSON rewards to a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	owned   bool
	log     logger.Logger
}

// Option configures a RedisPublisher.
type Option func(*RedisPublisher)

// WithChannel overrides DefaultChannel.
func WithChannel(channel string) Option {
	return func(p *RedisPublisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

// NewRedisPublisher publishes through an existing client. The caller keeps
// ownership of client.
func NewRedisPublisher(client redis.UniversalClient, opts ...Option) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: DefaultChannel,
		log:     logger.Named("notify"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects to addr and returns a publisher owning the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: connect %s: %w", addr, err)
	}
	p := NewRedisPublisher(client, opts...)
	p.owned = true
	return p, nil
}

// Channel returns the channel rewards are published to.
func (p *RedisPublisher) Channel() string { return p.channel }

// Publish implements Publisher. Empty rewards are skipped.
func (p *RedisPublisher) Publish(ctx context.Context, r Reward) error {
	if r.Empty() {
		return nil
	}
	if r.Unlocked == nil {
		r.Unlocked = []string{}
	}
	payload, err := sonic.Marshal(r)
	if err != nil {
		metrics.RecordNotificationError()
		return fmt.Errorf("notify: encode %s: %w", r.EventID, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		metrics.RecordNotificationError()
		p.log.Warn(ctx, "publish failed",
			logger.String("event_id", r.EventID),
			logger.String("channel", p.channel),
			logger.Error(err))
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	metrics.RecordNotificationPublished()
	return nil
}

// Close releases the connection when the publisher dialed it.
func (p *RedisPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}
