package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/models"
)

// Connect dials MongoDB and pings the primary, retrying with exponential
// backoff until cfg.ConnectMaxElapsed has passed.
func Connect(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.ConnectionURI()).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetSocketTimeout(cfg.SocketTimeout)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = cfg.ConnectMaxElapsed

	var client *mongo.Client
	operation := func() error {
		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("MongoDB not reachable, retrying",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB after retries: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the configured indexes on every collection and
// returns the names MongoDB reports for them
func EnsureIndexes(ctx context.Context, db *mongo.Database, cols config.CollectionsConfig) ([]string, error) {
	var names []string
	for _, coll := range []config.CollectionConfig{cols.Posts, cols.Accounts, cols.Checkpoints} {
		if len(coll.Indexes) == 0 {
			continue
		}
		created, err := db.Collection(coll.Name).Indexes().CreateMany(ctx, indexModels(coll.Indexes))
		if err != nil {
			return names, fmt.Errorf("failed to create indexes on %s: %w", coll.Name, err)
		}
		for _, name := range created {
			names = append(names, coll.Name+"."+name)
		}
	}
	return names, nil
}

func indexModels(specs []config.IndexSpec) []mongo.IndexModel {
	out := make([]mongo.IndexModel, 0, len(specs))
	for _, spec := range specs {
		keys := bson.D{}
		for _, field := range spec.Fields {
			order := 1
			if strings.HasPrefix(field, "-") {
				field, order = field[1:], -1
			}
			keys = append(keys, bson.E{Key: field, Value: order})
		}
		model := mongo.IndexModel{Keys: keys}
		if spec.Unique {
			model.Options = options.Index().SetUnique(true)
		}
		out = append(out, model)
	}
	return out
}

// MongoLedger implements Ledger on a MongoDB collection with a unique
// filename index
type MongoLedger struct {
	coll *mongo.Collection
}

// NewMongoLedger creates a ledger backed by coll
func NewMongoLedger(coll *mongo.Collection) *MongoLedger {
	return &MongoLedger{coll: coll}
}

// ensureIndex creates the unique filename index MarkProcessed relies on. It
// matches the default checkpoint index, so repeated calls are no-ops.
func (l *MongoLedger) ensureIndex(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "filename", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create checkpoint index on %s: %w", l.coll.Name(), err)
	}
	return nil
}

// IsProcessed reports whether a checkpoint exists for filename
func (l *MongoLedger) IsProcessed(ctx context.Context, filename string) (bool, error) {
	err := l.coll.FindOne(ctx, bson.M{"filename": filename}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up checkpoint for %s: %w", filename, err)
	}
	return true, nil
}

// MarkProcessed inserts a checkpoint. An existing checkpoint is left as is.
func (l *MongoLedger) MarkProcessed(ctx context.Context, record models.CheckpointRecord) error {
	if _, err := l.coll.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyProcessed, record.Filename)
		}
		return fmt.Errorf("failed to store checkpoint for %s: %w", record.Filename, err)
	}
	return nil
}

// List returns all checkpoints ordered by filename
func (l *MongoLedger) List(ctx context.Context) ([]models.CheckpointRecord, error) {
	cursor, err := l.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "filename", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	var records []models.CheckpointRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoints: %w", err)
	}
	return records, nil
}

// Close is a no-op; the client is owned by the caller
func (l *MongoLedger) Close() error {
	return nil
}
