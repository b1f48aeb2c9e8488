package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/babi2707/segmark/types"
)

// DefaultTTL bounds how long a crashed holder can keep a key.
const DefaultTTL = 10 * time.Minute

// DefaultPrefix namespaces lock keys in a shared Redis.
const DefaultPrefix = "segmark:lock:"

// releaseTimeout bounds the release round trip after the run context is gone.
const releaseTimeout = 5 * time.Second

// releaseScript deletes the key only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the Redis locker.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// TTL is the key expiry (default 10m). It should exceed the tool timeout.
	TTL time.Duration
	// Prefix is prepended to every key (default segmark:lock:).
	Prefix string
}

// Redis is a Locker shared across processes through one Redis instance.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedis creates a Redis locker from the given config.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis locker requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis locker: invalid URL: %w", err)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Redis{config: cfg, client: goredis.NewClient(opts)}, nil
}

// TryAcquire implements Locker with SET NX PX and a per-holder token.
func (r *Redis) TryAcquire(ctx context.Context, key string) (Release, error) {
	full := r.config.Prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, full, token, r.config.TTL).Result()
	if err != nil {
		return nil, types.NewRunError(types.ErrIOFailure, "lock", "redis lock unavailable", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrBusy, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, r.client, []string{full}, token).Err()
		})
	}, nil
}

// Close releases the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Locker = (*Redis)(nil)
