package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel carrying change notifications
const DefaultChannel = "mosque:storage"

// NewRedisClient creates a Redis client and checks the connection
func NewRedisClient(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return client, nil
}

// RedisStore persists documents as plain Redis strings. Every write is
// announced on a pub/sub channel as "<origin>|<key>" so other processes can
// re-read the key.
type RedisStore struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, channel string) *RedisStore {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisStore{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Origin is the id this process stamps on its change notifications
func (s *RedisStore) Origin() string {
	return s.origin
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	s.announce(ctx, key)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	s.announce(ctx, key)
	return nil
}

func (s *RedisStore) announce(ctx context.Context, key string) {
	if err := s.client.Publish(ctx, s.channel, s.origin+"|"+key).Err(); err != nil {
		log.Printf("STORE: Failed to announce change of %s: %v", key, err)
	}
}

// Watch subscribes to the change channel and reports keys changed by
// other origins
func (s *RedisStore) Watch(ctx context.Context, fn func(key string)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	log.Printf("STORE: Watching change channel %s", s.channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				origin, key, found := strings.Cut(msg.Payload, "|")
				if !found || key == "" {
					log.Printf("STORE: Ignoring malformed change notification %q", msg.Payload)
					continue
				}
				if origin == s.origin {
					continue
				}
				fn(key)
			}
		}
	}()
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
