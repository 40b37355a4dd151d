// Package redis keeps the refresh shield counters in Redis, shared by every API instance.
package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/shield"
)

const (
	hitsPrefix  = "shield:hits:"
	blockPrefix = "shield:block:"
)

// NewClient connects to the configured Redis URL.
func NewClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(conf.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis URL")
	}
	if opts.Password == "" && conf.Redis.Password != "" {
		opts.Password = conf.Redis.Password
	}
	opts.DB = conf.Redis.DB
	opts.PoolSize = conf.Redis.PoolSize
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

type shieldStore struct {
	client redis.Cmdable
}

var _ shield.Store = (*shieldStore)(nil)

func NewShieldStore(client redis.Cmdable) shield.Store {
	return &shieldStore{client: client}
}

// Hit increments the counter of client and arms its expiry on the first hit of a window.
func (s *shieldStore) Hit(ctx context.Context, client string, window time.Duration) (int64, error) {
	key := hitsPrefix + client
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "incrementing shield counter")
	}
	if n == 1 {
		if err = s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, errors.Wrap(err, "arming shield window")
		}
	}
	return n, nil
}

func (s *shieldStore) Block(ctx context.Context, client string, d time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, blockPrefix+client, 1, d)
	pipe.Del(ctx, hitsPrefix+client)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "blocking client")
}

func (s *shieldStore) BlockedFor(ctx context.Context, client string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, blockPrefix+client).Result()
	if err != nil {
		return 0, errors.Wrap(err, "reading block")
	}
	// negative values mean no key, or no expiry
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
