package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/models"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // prepended to access_token / refresh_token
	TTL      time.Duration // 0 = no expiry
}

// RedisStore keeps the session in Redis so several machines (or a CI runner
// and a workstation) can share one login.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStoreFromClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) accessKey() string  { return r.prefix + constants.AccessTokenKey }
func (r *RedisStore) refreshKey() string { return r.prefix + constants.RefreshTokenKey }

func (r *RedisStore) Load(ctx context.Context) (models.TokenPair, error) {
	vals, err := r.client.MGet(ctx, r.accessKey(), r.refreshKey()).Result()
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to read session from redis: %w", err)
	}
	str := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}
	pair := models.TokenPair{Access: str(vals[0]), Refresh: str(vals[1])}
	if !pair.Valid() {
		return models.TokenPair{}, nil
	}
	return pair, nil
}

// Save writes both keys in one MULTI/EXEC so no reader observes a half session.
func (r *RedisStore) Save(ctx context.Context, pair models.TokenPair) error {
	if err := checkPair(pair); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.accessKey(), pair.Access, r.ttl)
		pipe.Set(ctx, r.refreshKey(), pair.Refresh, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session to redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.accessKey(), r.refreshKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear session in redis: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
