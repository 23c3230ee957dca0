package checklist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisStateKey = "tscomply:checklist_state"
	redisTimeout  = 3 * time.Second
)

// RedisStore persists tracker state in redis, for deployments where several
// analyzer instances share one checklist (multiple cameras feeding the same
// site policy).
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisStoreFromClient wraps an existing client; tests hand in miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Load() (States, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, redisStateKey).Result()
	if errors.Is(err, redis.Nil) {
		return States{}, nil
	}
	if err != nil {
		return nil, err
	}
	var s States
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) Save(s States) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return r.client.Set(ctx, redisStateKey, data, 0).Err()
}

// Ping reports backend reachability for the health endpoint.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
