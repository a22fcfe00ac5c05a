package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/models"
)

// ErrDocumentsRejected is returned when the server rejects individual
// documents of a batch. The server has already aborted the transaction, so
// the batch is not retried.
var ErrDocumentsRejected = errors.New("documents rejected")

// bulkWriter is the part of *mongo.Collection the writer uses
type bulkWriter interface {
	BulkWrite(ctx context.Context, writes []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// transactor runs fn inside a transaction, committing when it returns nil.
// fn may be called more than once if the transaction is retried.
type transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type sessionTransactor struct {
	client *mongo.Client
	opts   *options.TransactionOptions
}

func (s sessionTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, s.opts)
	return err
}

// MongoWriter commits batches to the post and account collections in one
// MongoDB transaction
type MongoWriter struct {
	posts    bulkWriter
	accounts bulkWriter
	txn      transactor
	timeout  time.Duration
}

// NewMongoWriter creates a writer for the configured collections. timeout
// bounds each commit and is used as the majority write concern timeout.
func NewMongoWriter(client *mongo.Client, db *mongo.Database, cols config.CollectionsConfig, timeout time.Duration) *MongoWriter {
	wc := &writeconcern.WriteConcern{W: "majority", WTimeout: timeout}
	return &MongoWriter{
		posts:    db.Collection(cols.Posts.Name),
		accounts: db.Collection(cols.Accounts.Name),
		txn: sessionTransactor{
			client: client,
			opts:   options.Transaction().SetWriteConcern(wc),
		},
		timeout: timeout,
	}
}

// Commit upserts every post and account of the batch by id. Documents
// without an id are dropped and counted as failed. A document the server
// rejects aborts the transaction and fails the batch with
// ErrDocumentsRejected. Cancelling ctx does not interrupt a commit in flight.
func (w *MongoWriter) Commit(ctx context.Context, batch models.Batch) (CommitResult, error) {
	if batch.Empty() {
		return CommitResult{}, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	postWrites, postsRejected := replaceByID(batch.Posts, func(p models.Post) string { return p.ID })
	accountWrites, accountsRejected := replaceByID(batch.Accounts, func(a models.Account) string { return a.ID })

	var result CommitResult
	err := w.txn.WithTransaction(ctx, func(ctx context.Context) error {
		result = CommitResult{PostsFailed: postsRejected, AccountsFailed: accountsRejected}

		written, err := bulkUpsert(ctx, w.posts, postWrites)
		if err != nil {
			return fmt.Errorf("failed to write posts: %w", err)
		}
		result.PostsWritten = written

		written, err = bulkUpsert(ctx, w.accounts, accountWrites)
		if err != nil {
			return fmt.Errorf("failed to write accounts: %w", err)
		}
		result.AccountsWritten = written
		return nil
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	return result, nil
}

// replaceByID builds full-document upserts keyed on _id and drops documents
// without an id
func replaceByID[T any](docs []T, id func(T) string) ([]mongo.WriteModel, int64) {
	writes := make([]mongo.WriteModel, 0, len(docs))
	var rejected int64
	for _, doc := range docs {
		key := id(doc)
		if key == "" {
			rejected++
			continue
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": key}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	return writes, rejected
}

// bulkUpsert runs writes unordered. Document-level write errors become
// ErrDocumentsRejected, which carries no transient label; other errors are
// returned unchanged.
func bulkUpsert(ctx context.Context, coll bulkWriter, writes []mongo.WriteModel) (int64, error) {
	if len(writes) == 0 {
		return 0, nil
	}

	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		// an exception without write errors is a command or write concern
		// failure and stays fatal as is
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
			return 0, err
		}
		first := bwe.WriteErrors[0]
		return 0, fmt.Errorf("%w: %d of %d (index %d: %s)",
			ErrDocumentsRejected, len(bwe.WriteErrors), len(writes), first.Index, first.Message)
	}
	return res.UpsertedCount + res.ModifiedCount, nil
}
