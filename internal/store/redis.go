package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

const (
	messageTTL     = 24 * time.Hour
	recentRingSize = 1000
)

// RedisStore handles Redis operations for the recent-message cache.
// The archive store keeps everything; Redis only holds a rolling window
// per room so the recent-history endpoint stays cheap.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying connection so the rate limiter can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID int64) string {
	return fmt.Sprintf("room:%d:messages", roomID)
}

// CacheMessage stores a message in the room's rolling window.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomMessagesKey(msg.RoomID)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Time.UnixMilli()),
		Member: string(data),
	})
	// Trim to the newest recentRingSize entries
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-recentRingSize-1))
	pipe.Expire(ctx, key, messageTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentMessages retrieves cached messages from a room, newest first.
// A positive before (unix milliseconds) pages backwards in time.
func (s *RedisStore) RecentMessages(ctx context.Context, roomID int64, limit int, before int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	key := roomMessagesKey(roomID)

	maxScore := "+inf"
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	}

	results, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// ClearRoom drops the cached window for a room.
func (s *RedisStore) ClearRoom(ctx context.Context, roomID int64) error {
	return s.client.Del(ctx, roomMessagesKey(roomID)).Err()
}
