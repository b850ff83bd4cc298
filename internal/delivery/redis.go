package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/syntrix-offline/internal/queue"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// streamClient is the part of the Redis client RedisSender uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisSender appends updates to a Redis stream. Each entry carries the
// idempotency key, sort key and JSON-encoded update as separate fields.
type RedisSender struct {
	client streamClient
	stream string
	maxLen int64
	logger *slog.Logger
}

var _ queue.Sender = (*RedisSender)(nil)

// DialRedis connects to cfg.Addr and checks the connection.
func DialRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisSender, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return newRedisSender(client, cfg, logger), nil
}

func newRedisSender(client streamClient, cfg RedisConfig, logger *slog.Logger) *RedisSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSender{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger.With("component", "redis-sender"),
	}
}

// Send implements queue.Sender. The result is the stream entry id.
func (s *RedisSender) Send(ctx context.Context, d *queue.Delivery) (interface{}, error) {
	update, err := json.Marshal(d.Update)
	if err != nil {
		return nil, &model.FatalError{Err: fmt.Errorf("failed to marshal update: %w", err)}
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"idempotency_key": d.IdempotencyKey,
			"sort_key":        strconv.FormatInt(d.SortKey, 10),
			"update":          string(update),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("xadd to %s failed: %w", s.stream, err)
	}
	s.logger.Debug("Update appended", "sort", d.SortKey, "id", id)
	return id, nil
}

// Close closes the Redis client.
func (s *RedisSender) Close() error {
	return s.client.Close()
}
