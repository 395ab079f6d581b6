package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	fieldData    = "data"
	fieldVersion = "version"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each object in a hash {data, version} and guards writes with WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts.Prefix), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Object, error) {
	vals, err := s.client.HMGet(ctx, joinKey(s.prefix, key), fieldData, fieldVersion).Result()
	if err != nil {
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Object{}, ErrNotFound
	}

	data, _ := vals[0].(string)
	var version int64
	if v, ok := vals[1].(string); ok {
		if _, err := fmt.Sscan(v, &version); err != nil {
			return Object{}, fmt.Errorf("parse version of %s: %w", key, err)
		}
	}
	return Object{Data: []byte(data), Version: version}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte, expectedVersion int64) (int64, error) {
	full := joinKey(s.prefix, key)
	next := expectedVersion + 1

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, full, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, full, fieldData, data, fieldVersion, next)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, full)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionConflict
	default:
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, joinKey(s.prefix, prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, trimKey(s.prefix, iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
