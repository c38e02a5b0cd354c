// Package kvstore persists small values by key. It backs the token store
// and offers a local file, SQLite and MongoDB implementation.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value
var ErrNotFound = errors.New("key not found")

// Store is a persistent key-value store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close(ctx context.Context) error
}
