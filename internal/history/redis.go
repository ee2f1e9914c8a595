package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps history as one capped JSON list per session.
type RedisStore struct {
	client *redis.Client
	max    int64
	ttl    time.Duration
}

// NewRedisStore accepts either a redis:// URL or a bare host:port address.
func NewRedisStore(ctx context.Context, addr, password string, max int, ttl time.Duration) (*RedisStore, error) {
	opts, err := redisOptions(addr, password)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if max <= 0 {
		max = 500
	}
	return &RedisStore{client: client, max: int64(max), ttl: ttl}, nil
}

func redisOptions(addr, password string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if password != "" {
			opts.Password = password
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr, Password: password, DB: 0}, nil
}

func historyKey(sessionID string) string { return "voicelog:history:" + sessionID }

func (s *RedisStore) Save(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}

	key := historyKey(entry.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -s.max, -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save history entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	raw, err := s.client.LRange(ctx, historyKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query recent history: %w", err)
	}
	items := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		items = append(items, e)
	}
	return items, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
