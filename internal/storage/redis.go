package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"traffic-router/internal/config"
	"traffic-router/internal/engine"
)

// Hash keys the original deployment established; existing data must stay
// readable, so these are part of the storage contract.
const (
	targetsKey = "targets"
	trafficKey = "traffic"
)

// Redis keeps targets as JSON in one hash and accept counts in another.
// HIncrBy gives the per-key atomic increment the counter contract requires.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(cfg config.Config) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})}
}

func (s *Redis) Upsert(ctx context.Context, t engine.Target) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal target %q: %w", t.ID, err)
	}
	if err := s.rdb.HSet(ctx, targetsKey, t.ID, b).Err(); err != nil {
		return fmt.Errorf("hset target %q: %w", t.ID, err)
	}
	return nil
}

func (s *Redis) List(ctx context.Context) ([]engine.Target, error) {
	vals, err := s.rdb.HVals(ctx, targetsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hvals targets: %w", err)
	}
	out := make([]engine.Target, 0, len(vals))
	for _, raw := range vals {
		var t engine.Target
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("unmarshal stored target: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Redis) Get(ctx context.Context, id string) (engine.Target, error) {
	raw, err := s.rdb.HGet(ctx, targetsKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return engine.Target{}, engine.ErrNotFound
	}
	if err != nil {
		return engine.Target{}, fmt.Errorf("hget target %q: %w", id, err)
	}
	var t engine.Target
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return engine.Target{}, fmt.Errorf("unmarshal target %q: %w", id, err)
	}
	return t, nil
}

func (s *Redis) Count(ctx context.Context, id string) (int64, error) {
	n, err := s.rdb.HGet(ctx, trafficKey, id).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hget traffic %q: %w", id, err)
	}
	return n, nil
}

func (s *Redis) Increment(ctx context.Context, id string) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, trafficKey, id, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("hincrby traffic %q: %w", id, err)
	}
	return n, nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) Close() {
	_ = s.rdb.Close()
}
