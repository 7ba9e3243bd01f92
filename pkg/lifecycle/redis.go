package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBusConfig configures the Redis pub/sub distributed bus.
type RedisBusConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	MaxConns         int
}

// RedisBus fans lifecycle events out across instances through Redis pub/sub.
// Delivery is at-most-once; subscribers on other instances observe events
// only while connected.
type RedisBus struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
}

// NewRedisBus creates a Redis-backed distributed bus.
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	client := redis.NewClient(opts)

	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "lifecycle:bus"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}

	return &RedisBus{
		client:    client,
		prefix:    prefix,
		opTimeout: cfg.OperationTimeout,
	}, nil
}

// Publish pushes the event to the Redis channel for its logical channel name.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()
	return b.client.Publish(cctx, b.key(event.Channel), raw).Err()
}

// Subscribe consumes the Redis pub/sub channel and forwards decoded events.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(Event)) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-subCtx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				handler(evt)
			}
		}
	}()

	return &redisSubscription{
		cancel: cancel,
		pubsub: pubsub,
	}, nil
}

// Ping verifies connectivity to Redis.
func (b *RedisBus) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()
	return b.client.Ping(cctx).Err()
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *RedisBus) key(channel string) string {
	return fmt.Sprintf("%s:%s", b.prefix, channel)
}

type redisSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.pubsub != nil {
			err = s.pubsub.Close()
		}
	})
	return err
}
