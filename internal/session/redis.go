package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "imagebot:session"
	// StateTTL — сколько живёт незавершённый диалог без активности.
	StateTTL = 12 * time.Hour
)

type storedState struct {
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisStore хранит состояния в Redis в виде JSON с TTL, чтобы диалог
// переживал перезапуск бота.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: StateTTL}
}

// NewRedisClient разбирает REDIS_URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func stateKey(chatID int64) string {
	return fmt.Sprintf("%s:%d", redisKeyPrefix, chatID)
}

func (s *RedisStore) Get(ctx context.Context, chatID int64) (State, error) {
	val, err := s.client.Get(ctx, stateKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return Idle, nil
	}
	if err != nil {
		return Idle, fmt.Errorf("get session state: %w", err)
	}

	var st storedState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return Idle, fmt.Errorf("decode session state: %w", err)
	}
	return st.State, nil
}

func (s *RedisStore) Set(ctx context.Context, chatID int64, state State) error {
	if state == Idle {
		return s.client.Del(ctx, stateKey(chatID)).Err()
	}

	data, err := json.Marshal(storedState{State: state, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKey(chatID), data, s.ttl).Err()
}
