// Package storage is the client's local key/value store: a msgpack file by
// default, or redis when a store URL is configured.
package storage

import (
	"context"
	"path/filepath"
	"strings"
)

// Store holds string values by key.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open picks the backend: redis for redis:// or rediss:// URLs, otherwise a
// file under dataDir. Redis keys are scoped to username.
func Open(ctx context.Context, storeURL, dataDir, username string) (Store, error) {
	if strings.HasPrefix(storeURL, "redis://") || strings.HasPrefix(storeURL, "rediss://") {
		return NewRedisStore(ctx, storeURL, username)
	}
	return NewFileStore(filepath.Join(dataDir, "store.msgpack"))
}
