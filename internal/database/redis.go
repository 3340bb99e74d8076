package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/npezzotti/synapse-chat/internal/types"
	"github.com/redis/go-redis/v9"
)

// RedisMessageStore keeps each chat's history in a redis list, oldest first.
type RedisMessageStore struct {
	rdb *redis.Client
}

func NewRedisMessageStore(ctx context.Context, url string) (*RedisMessageStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisMessageStore{rdb: rdb}, nil
}

func messagesKey(chatId string) string {
	return "synapse:chat:" + chatId + ":messages"
}

func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisMessageStore) Append(ctx context.Context, chatId string, msg types.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := s.rdb.RPush(ctx, messagesKey(chatId), raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}

	return nil
}

func (s *RedisMessageStore) List(ctx context.Context, chatId string, page, limit int) ([]types.Message, int, error) {
	page, limit = NormalizePage(page, limit)
	key := messagesKey(chatId)

	total, err := s.rdb.LLen(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("llen: %w", err)
	}

	start, end := pageBounds(int(total), page, limit)
	if start == end {
		return []types.Message{}, int(total), nil
	}

	raws, err := s.rdb.LRange(ctx, key, int64(start), int64(end-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("lrange: %w", err)
	}

	messages := make([]types.Message, 0, len(raws))
	for _, raw := range raws {
		var msg types.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, 0, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, int(total), nil
}

func (s *RedisMessageStore) Close() error {
	return s.rdb.Close()
}
