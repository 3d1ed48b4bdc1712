// Package cache wraps go-redis for the two shared-state needs of the
// data-access layer: a positive cache of known tenant schemas and a
// cluster-wide lock around provisioning runs.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned when another process owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

// Client wraps redis.Client with the operations this service needs.
type Client struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string, logger zerolog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewClient(rdb, logger), nil
}

func NewClient(rdb *redis.Client, logger zerolog.Logger) *Client {
	return &Client{redis: rdb, logger: logger}
}

func (c *Client) Close() error { return c.redis.Close() }

// SchemaSet is a redis set of schema names with a sliding TTL.
type SchemaSet struct {
	c   *Client
	key string
	ttl time.Duration
}

func (c *Client) SchemaSet(key string, ttl time.Duration) *SchemaSet {
	return &SchemaSet{c: c, key: key, ttl: ttl}
}

func (s *SchemaSet) IsMember(ctx context.Context, schema string) (bool, error) {
	ok, err := s.c.redis.SIsMember(ctx, s.key, schema).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", s.key, err)
	}
	return ok, nil
}

func (s *SchemaSet) Add(ctx context.Context, schema string) error {
	pipe := s.c.redis.TxPipeline()
	pipe.SAdd(ctx, s.key, schema)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sadd %s: %w", s.key, err)
	}
	s.c.logger.Debug().Str("key", s.key).Str("schema", schema).Msg("schema cached")
	return nil
}

// Lock is a single-holder lease built on SET NX with a TTL. The token makes
// Release a no-op for a holder whose lease already expired.
type Lock struct {
	c     *Client
	key   string
	ttl   time.Duration
	token string
}

func (c *Client) Lock(key string, ttl time.Duration) *Lock {
	return &Lock{c: c, key: key, ttl: ttl}
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *Lock) Acquire(ctx context.Context) error {
	token := uuid.NewString()
	ok, err := l.c.redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	l.token = token
	l.c.logger.Debug().Str("key", l.key).Dur("ttl", l.ttl).Msg("lock acquired")
	return nil
}

func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.c.redis, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}
