package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "tubevore:events"

const publishTimeout = 2 * time.Second

// RedisPublisher publishes events as JSON on a Redis channel. A publisher
// without a client drops events.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewRedisPublisher creates a publisher. If redisURL is empty or the
// connection fails, the publisher is created without a client.
func NewRedisPublisher(redisURL string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RedisPublisher{channel: DefaultChannel, logger: logger}
	if redisURL == "" {
		logger.Info("redis: no URL configured, event publishing disabled")
		return p
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis: invalid URL, event publishing disabled", "err", err)
		return p
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis: connection failed, event publishing disabled", "err", err)
		client.Close()
		return p
	}

	logger.Info("redis: connected, event publishing enabled")
	p.client = client
	return p
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Client returns the underlying Redis client. May be nil.
func (p *RedisPublisher) Client() *redis.Client {
	return p.client
}

// Notify publishes e in the background.
func (p *RedisPublisher) Notify(ctx context.Context, e Event) {
	if p.client == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("failed to encode event", "type", string(e.Type), "err", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
			p.logger.Warn("failed to publish event", "type", string(e.Type), "err", err)
		}
	}()
}

// Close waits for pending publishes and closes the client.
func (p *RedisPublisher) Close() error {
	p.wg.Wait()
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
