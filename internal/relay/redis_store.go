package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "hls-relay:"

// RedisConfig holds the connection settings of a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "hls-relay:".
	Prefix string
}

// RedisStore is a CredentialStore backed by Redis, so several relay
// instances can share the credentials of a tab. Expiry is enforced with
// native key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
	expiry ExpiryConfig
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, expiry ExpiryConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisStore(client, cfg.Prefix, expiry), nil
}

func newRedisStore(client *redis.Client, prefix string, expiry ExpiryConfig) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		expiry: expiry,
		now:    time.Now,
	}
}

// redisKey escapes the session id so the ':' separator cannot occur inside it.
func (r *RedisStore) redisKey(key Key) string {
	return r.prefix + "cred:" + url.QueryEscape(key.ClientSessionID) + ":" + strconv.FormatInt(key.ResourceID, 10)
}

// Put implements CredentialStore.Put.
func (r *RedisStore) Put(ctx context.Context, key Key, creds StreamCredentials) error {
	if !key.valid() {
		return ErrInvalidKey
	}
	now := r.now()
	e := entry{
		Creds:     creds,
		StoredAt:  now,
		ExpiresAt: r.expiry.ExpiresAt(creds, now),
	}

	var ttl time.Duration
	if !e.ExpiresAt.IsZero() {
		ttl = e.ExpiresAt.Sub(now)
		if ttl <= 0 {
			// Already past its deadline: drop whatever was there.
			return r.client.Del(ctx, r.redisKey(key)).Err()
		}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := r.client.Set(ctx, r.redisKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get implements CredentialStore.Get.
func (r *RedisStore) Get(ctx context.Context, key Key) (StreamCredentials, bool, error) {
	if !key.valid() {
		return StreamCredentials{}, false, ErrInvalidKey
	}

	payload, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StreamCredentials{}, false, nil
	}
	if err != nil {
		return StreamCredentials{}, false, fmt.Errorf("redis get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return StreamCredentials{}, false, fmt.Errorf("decode credentials: %w", err)
	}
	if e.expired(r.now()) {
		return StreamCredentials{}, false, nil
	}
	return e.Creds, true, nil
}

// Delete implements CredentialStore.Delete.
func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}

// Len implements CredentialStore.Len. It walks the key space with SCAN and
// returns 0 when Redis is unreachable.
func (r *RedisStore) Len(ctx context.Context) int {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"cred:*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if iter.Err() != nil {
		return 0
	}
	return n
}

// Sweep is a no-op: Redis expires keys on its own.
func (r *RedisStore) Sweep(context.Context) int {
	return 0
}

// Ping reports whether Redis answers. Used by the health endpoint.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
