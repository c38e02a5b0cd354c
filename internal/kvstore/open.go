package kvstore

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Backend names accepted by Open
const (
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendMongoDB = "mongodb"
)

// Options selects and configures a backend
type Options struct {
	Backend    string
	Dir        string
	SQLitePath string
	Encrypt    bool
	Mongo      MongoOptions
}

// Open builds the configured store. With Encrypt set the store is wrapped in
// Sealed using the key kept in Dir/.key.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch opts.Backend {
	case "", BackendFile:
		store, err = NewFile(opts.Dir)
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.Dir, "tokens.db")
		}
		store, err = NewSQLite(path)
	case BackendMongoDB:
		store, err = NewMongo(ctx, opts.Mongo, logger)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if !opts.Encrypt {
		logger.Warn("Token store encryption disabled", zap.String("backend", opts.Backend))
		return store, nil
	}

	key, err := LoadOrCreateKey(filepath.Join(opts.Dir, ".key"))
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	sealed, err := NewSealed(store, key)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return sealed, nil
}
