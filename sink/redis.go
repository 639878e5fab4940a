package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection and key layout.
type RedisConfig struct {
	Addr      string
	DB        int
	KeyPrefix string
	Channel   string
	// HistorySize bounds the result list; 0 disables it.
	HistorySize int
	// TTL expires the latest-result key; 0 keeps it forever.
	TTL time.Duration
}

// DefaultRedisConfig returns default configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "127.0.0.1:6379",
		KeyPrefix:   "fusion:",
		Channel:     "fusion:results",
		HistorySize: 1000,
	}
}

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// RedisSink keeps the latest result under "<prefix>latest", the recent ones
// in the "<prefix>history" list (newest first) and publishes each on Channel.
type RedisSink struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisSink wraps client. The sink closes the client on Close.
func NewRedisSink(client *redis.Client, cfg RedisConfig) *RedisSink {
	return &RedisSink{client: client, config: cfg}
}

// Name implements ResultSink.
func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) latestKey() string  { return s.config.KeyPrefix + "latest" }
func (s *RedisSink) historyKey() string { return s.config.KeyPrefix + "history" }

// Write stores and publishes r in one round trip.
func (s *RedisSink) Write(ctx context.Context, r engine.ConsensusResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.latestKey(), body, s.config.TTL)
		if s.config.HistorySize > 0 {
			pipe.LPush(ctx, s.historyKey(), body)
			pipe.LTrim(ctx, s.historyKey(), 0, int64(s.config.HistorySize-1))
		}
		if s.config.Channel != "" {
			pipe.Publish(ctx, s.config.Channel, body)
		}
		return nil
	})
	return err
}

// Latest returns the last written result. It returns redis.Nil when there is none.
func (s *RedisSink) Latest(ctx context.Context) (engine.ConsensusResult, error) {
	var r engine.ConsensusResult
	body, err := s.client.Get(ctx, s.latestKey()).Bytes()
	if err != nil {
		return r, err
	}
	err = json.Unmarshal(body, &r)
	return r, err
}

// Recent returns up to limit results, oldest first.
func (s *RedisSink) Recent(ctx context.Context, limit int) ([]engine.ConsensusResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	items, err := s.client.LRange(ctx, s.historyKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]engine.ConsensusResult, len(items))
	for i, item := range items {
		if err := json.Unmarshal([]byte(item), &out[len(items)-1-i]); err != nil {
			return nil, fmt.Errorf("history entry %d: %w", i, err)
		}
	}
	return out, nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
