// Package kv provides the string key-value persistence used for saved
// transcripts and client preferences. Backends are interchangeable; callers
// only see Store.
package kv

import (
	"context"
	"fmt"

	"github.com/Ahmadjon7/UZB-AI/internal/config"
)

// Store is a flat string key-value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "bolt":
		return OpenBolt(cfg.Path)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q (supported: memory, sqlite, bolt, redis)", cfg.Driver)
	}
}
