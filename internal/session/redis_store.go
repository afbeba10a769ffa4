package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "filefortress:session:v1:"

// RedisStore keeps the token pair in one Redis hash per namespace.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, key: redisKeyPrefix + namespace}
}

// Init checks that the server is reachable and the key holds a hash.
func (s *RedisStore) Init(ctx context.Context) error {
	kind, err := s.client.Type(ctx, s.key).Result()
	if err != nil {
		return fmt.Errorf("redis session init: %w", err)
	}
	if kind != "none" && kind != "hash" {
		return fmt.Errorf("%w: %s holds a %s", ErrCorrupt, s.key, kind)
	}
	return nil
}

// SetTokens writes both fields in a single transaction.
func (s *RedisStore) SetTokens(ctx context.Context, access, refresh string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		fields := map[string]any{}
		if access != "" {
			fields[KeyAccessToken] = access
		}
		if refresh != "" {
			fields[KeyRefreshToken] = refresh
		}
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set tokens: %w", err)
	}
	return nil
}

// ClearTokens deletes the namespace hash.
func (s *RedisStore) ClearTokens(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis clear tokens: %w", err)
	}
	return nil
}

// AccessToken returns the stored access token or "".
func (s *RedisStore) AccessToken(ctx context.Context) (string, error) {
	return s.field(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token or "".
func (s *RedisStore) RefreshToken(ctx context.Context) (string, error) {
	return s.field(ctx, KeyRefreshToken)
}

func (s *RedisStore) field(ctx context.Context, name string) (string, error) {
	v, err := s.client.HGet(ctx, s.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", name, err)
	}
	return v, nil
}
