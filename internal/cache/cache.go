package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcogenualdo/auth-proxy/internal/config"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidTTL = errors.New("ttl must be positive")
)

// Cache is a key/value store where every entry carries a TTL. Expired
// entries are never returned.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

func New(cfg config.SessionStorageConfig) (Cache, error) {
	switch cfg.Type {
	case config.StorageTypeMemory:
		return NewMemoryCache(), nil
	case config.StorageTypeRedis:
		if cfg.Redis == nil {
			return nil, errors.New("redis config is required for redis storage type")
		}
		return NewRedisCache(*cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
