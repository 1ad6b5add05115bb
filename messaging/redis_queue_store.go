package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentmarket/types"
)

// RedisConfig contains Redis-specific queue store configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size.
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "agentmarket:",
	}
}

// RedisQueueStore is a Redis-backed implementation of QueueStore. Queued
// messages survive a router restart, so agents reconnecting to a new
// process can still drain what was sent to them while offline.
type RedisQueueStore struct {
	client    *redis.Client
	keyPrefix string
	maxDepth  int
}

// NewRedisQueueStore creates a Redis-backed queue store and verifies
// connectivity. A maxDepth of zero or less uses the default bound.
func NewRedisQueueStore(config RedisConfig, maxDepth int) (*RedisQueueStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentmarket:"
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxQueueDepth
	}

	return &RedisQueueStore{
		client:    client,
		keyPrefix: keyPrefix + "queue:",
		maxDepth:  maxDepth,
	}, nil
}

// queueKey returns the Redis key for an agent's offline queue.
func (s *RedisQueueStore) queueKey(agentID string) string {
	return s.keyPrefix + agentID
}

// Enqueue appends a message to the receiver's queue, trimming to the depth
// bound so the oldest messages are dropped first.
func (s *RedisQueueStore) Enqueue(ctx context.Context, agentID string, msg *types.AgentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.queueKey(agentID), data)
	pipe.LTrim(ctx, s.queueKey(agentID), int64(-s.maxDepth), -1)
	_, err = pipe.Exec(ctx)
	return err
}

// Drain atomically returns and clears the receiver's queued messages.
func (s *RedisQueueStore) Drain(ctx context.Context, agentID string) ([]*types.AgentMessage, error) {
	key := s.queueKey(agentID)

	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	raw := rangeCmd.Val()
	if len(raw) == 0 {
		return nil, nil
	}

	msgs := make([]*types.AgentMessage, 0, len(raw))
	for _, item := range raw {
		var msg types.AgentMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queued message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// Depth returns the number of messages queued for the receiver.
func (s *RedisQueueStore) Depth(ctx context.Context, agentID string) (int, error) {
	n, err := s.client.LLen(ctx, s.queueKey(agentID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Depths returns the queue depth for every receiver with queued messages.
func (s *RedisQueueStore) Depths(ctx context.Context) (map[string]int, error) {
	depths := make(map[string]int)

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			depths[strings.TrimPrefix(key, s.keyPrefix)] = int(n)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return depths, nil
}

// Close closes the store.
func (s *RedisQueueStore) Close() error {
	return s.client.Close()
}

// Ensure RedisQueueStore implements QueueStore.
var _ QueueStore = (*RedisQueueStore)(nil)
