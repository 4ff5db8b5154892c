package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/richinsley/viewcomfy/config"
	"github.com/richinsley/viewcomfy/results"
)

// RedisClient is the subset of redis the archive needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, member string) error
	Close() error
}

var _ RedisClient = (*redClient)(nil)

type redClient struct {
	cli *redis.Client
}

func NewRedisClient(ctx context.Context, cfg config.ArchiveConfig) (*redClient, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, err
	}
	return &redClient{cli: c}, nil
}

func (c *redClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.cli.SetNX(ctx, key, value, expiration).Result()
}

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *redClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.cli.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

func (c *redClient) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.cli.ZRevRange(ctx, key, start, stop).Result()
}

func (c *redClient) ZRem(ctx context.Context, key string, member string) error {
	return c.cli.ZRem(ctx, key, member).Err()
}

func (c *redClient) Close() error { return c.cli.Close() }

const (
	resultKeyPrefix = "viewcomfy:result:"
	indexKey        = "viewcomfy:results"
)

// RedisArchive stores each job under its own key, written with SETNX so that only
// the first record survives, and indexes ids in a sorted set by arrival time.
type RedisArchive struct {
	cli RedisClient
	ttl time.Duration
	now func() time.Time
}

func NewRedisArchive(cli RedisClient, ttl time.Duration) *RedisArchive {
	return &RedisArchive{cli: cli, ttl: ttl, now: time.Now}
}

func (a *RedisArchive) Close() error { return a.cli.Close() }

func (a *RedisArchive) Record(ctx context.Context, job *results.Job) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job %s: %w", job.PromptID, err)
	}
	created, err := a.cli.SetNX(ctx, resultKeyPrefix+job.PromptID, data, a.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx result %s: %w", job.PromptID, err)
	}
	if !created {
		return false, nil
	}
	if err := a.cli.ZAdd(ctx, indexKey, float64(a.now().UnixNano()), job.PromptID); err != nil {
		return true, fmt.Errorf("index result %s: %w", job.PromptID, err)
	}
	return true, nil
}

func (a *RedisArchive) Get(ctx context.Context, promptID string) (*results.Job, error) {
	data, err := a.cli.Get(ctx, resultKeyPrefix+promptID)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", promptID, err)
	}
	return decodeJob(data)
}

// List skips index entries whose record has expired, and prunes them.
func (a *RedisArchive) List(ctx context.Context, limit int) ([]*results.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := a.cli.ZRevRange(ctx, indexKey, 0, stop)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	jobs := make([]*results.Job, 0, len(ids))
	for _, id := range ids {
		job, err := a.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = a.cli.ZRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
