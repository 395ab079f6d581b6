// Package storage provides versioned object stores for pipeline state.
//
// Every backend implements compare-and-set on a per-key version: a Put
// succeeds only when the caller's expectedVersion matches the stored one
// (0 meaning the key must not exist yet) and returns the new version.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
)

var (
	ErrNotFound        = errors.New("object not found")
	ErrVersionConflict = errors.New("object version conflict")
)

// Object is a stored payload and the version it was read at.
type Object struct {
	Data    []byte
	Version int64
}

type Store interface {
	Get(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, data []byte, expectedVersion int64) (int64, error)
	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open builds the backend selected by state.backend.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	switch cfg.State.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		db, err := NewDatabase(cfg.State.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil
	case "redis":
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.State.RedisAddr,
			Password: cfg.State.RedisPassword,
			DB:       cfg.State.RedisDB,
			Prefix:   cfg.State.Prefix,
		})
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:   cfg.State.S3Bucket,
			Region:   cfg.State.S3Region,
			Endpoint: cfg.State.S3Endpoint,
			Prefix:   cfg.State.Prefix,
		}, log)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

func trimKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
}
