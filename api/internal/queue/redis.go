package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mistakepatch/api/internal/pipeline"
)

const popTimeout = 5 * time.Second

// Redis is a list-backed queue: producers LPUSH, consumers BRPOP.
type Redis struct {
	client *redis.Client
	key    string
	log    *slog.Logger
}

// NewRedis parses url ("redis://host:6379/0") and pings the server.
func NewRedis(ctx context.Context, url, key string, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisClient(client, key, log), nil
}

func NewRedisClient(client *redis.Client, key string, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, key: key, log: log}
}

func (r *Redis) Mode() string { return "redis" }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Enqueue(ctx context.Context, job pipeline.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, r.key, b).Err()
}

// Consume pops jobs until ctx is done. Malformed payloads are logged and dropped.
func (r *Redis) Consume(ctx context.Context, h Handler) error {
	for {
		res, err := r.client.BRPop(ctx, popTimeout, r.key).Result()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			r.log.Warn("redis brpop", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP replies [key, value]
		if len(res) != 2 {
			continue
		}
		job, err := pipeline.DecodeJob([]byte(res[1]))
		if err != nil {
			r.log.Error("drop malformed job", "err", err)
			continue
		}
		run(ctx, h, job, r.log)
	}
}
