package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oicur0t/tradealert/pkg/retry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoOptions configures the MongoDB store
type MongoOptions struct {
	URI                string
	Database           string
	Collection         string
	CertificateKeyFile string
	Timeout            time.Duration
}

type mongoEntry struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Mongo stores values as documents keyed by _id
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *zap.Logger
}

// NewMongo connects to MongoDB, retrying the initial ping with backoff
func NewMongo(ctx context.Context, opts MongoOptions, logger *zap.Logger) (*Mongo, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	uri := opts.URI
	clientOpts := options.Client().ApplyURI(uri)

	// X.509 authentication when a certificate key file is configured
	if opts.CertificateKeyFile != "" {
		if strings.Contains(uri, "?") {
			uri = uri + "&tlsCertificateKeyFile=" + opts.CertificateKeyFile
		} else {
			uri = uri + "?tlsCertificateKeyFile=" + opts.CertificateKeyFile
		}
		clientOpts.ApplyURI(uri)
		clientOpts.SetAuth(options.Credential{
			AuthMechanism: "MONGODB-X509",
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		return client.Ping(pingCtx, nil)
	}, func(attempt int, wait time.Duration, err error) {
		logger.Warn("MongoDB ping failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", opts.Database),
		zap.String("collection", opts.Collection))

	m := &Mongo{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		timeout:    opts.Timeout,
		logger:     logger,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		// the store works without it
		logger.Error("Failed to ensure indexes", zap.Error(err), zap.String("collection", opts.Collection))
	}
	return m, nil
}

// ensureIndexes creates the updated_at index used when inspecting the collection
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: -1}},
		Options: options.Index().SetName("updated_at_desc"),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Get reads the value stored under key
func (m *Mongo) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var entry mongoEntry
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find %s: %w", key, err)
	}
	return entry.Value, nil
}

// Set upserts the value under key
func (m *Mongo) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	entry := mongoEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": key}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Remove deletes key
func (m *Mongo) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close closes the MongoDB connection
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
