package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("relay: parse REDIS_URL: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("relay: redis ping: %w", err)
	}
	return client, nil
}

// RedisPublisher publishes events to a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(ctx context.Context, url, channel string) (*RedisPublisher, error) {
	client, err := newRedisClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

// RedisSubscriber consumes events from a Redis pub/sub channel.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
}

func NewRedisSubscriber(ctx context.Context, url, channel string) (*RedisSubscriber, error) {
	client, err := newRedisClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisSubscriber{client: client, channel: channel}, nil
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, fn func(Event)) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", s.channel, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := Unmarshal([]byte(msg.Payload))
			if err != nil {
				continue
			}
			fn(e)
		}
	}
}

func (s *RedisSubscriber) Close() error { return s.client.Close() }
