package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrlauy/ghome-bridge/device"
)

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisPersister stores the state of each device as JSON under device:state:<id>. Keys never expire.
type RedisPersister struct {
	rdb redisClient
}

func DialRedis(ctx context.Context, addr, password string, db int) (*RedisPersister, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", addr, err)
	}
	return NewRedisPersister(rdb), nil
}

func NewRedisPersister(rdb redisClient) *RedisPersister {
	return &RedisPersister{rdb: rdb}
}

func (r *RedisPersister) Load(ctx context.Context, id string) (device.State, bool, error) {
	data, err := r.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	state, err := decode(id, data)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (r *RedisPersister) Save(ctx context.Context, id string, state device.State) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key(id), data, 0).Err()
}

func (r *RedisPersister) Close() error {
	return r.rdb.Close()
}
