package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/models"
)

// ErrAlreadyProcessed is returned when a checkpoint already exists for a file
var ErrAlreadyProcessed = errors.New("file already processed")

// Ledger records which source files have been fully ingested
type Ledger interface {
	IsProcessed(ctx context.Context, filename string) (bool, error)
	MarkProcessed(ctx context.Context, record models.CheckpointRecord) error
	List(ctx context.Context) ([]models.CheckpointRecord, error)
	Close() error
}

// CommitResult counts the outcome of one batch commit
type CommitResult struct {
	PostsWritten    int64
	AccountsWritten int64
	PostsFailed     int64
	AccountsFailed  int64
}

// BatchWriter persists a drained batch atomically
type BatchWriter interface {
	Commit(ctx context.Context, batch models.Batch) (CommitResult, error)
}

// NewLedger creates the checkpoint ledger selected by configuration. db is only
// used by the mongodb backend.
func NewLedger(ctx context.Context, cfg *config.Config, db *mongo.Database) (Ledger, error) {
	switch cfg.Ledger.Type {
	case config.LedgerMongoDB:
		if db == nil {
			return nil, errors.New("mongodb ledger requires a database handle")
		}
		ledger := NewMongoLedger(db.Collection(cfg.Collections.Checkpoints.Name))
		if err := ledger.ensureIndex(ctx); err != nil {
			return nil, err
		}
		return ledger, nil
	case config.LedgerDynamoDB:
		return NewDynamoLedger(cfg.Ledger)
	case config.LedgerPostgreSQL:
		return NewPostgresLedger(ctx, cfg.Ledger)
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.Ledger.Type)
	}
}
