package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyderes/tweet-ingest/internal/models"
)

type fakeCollection struct {
	writes []mongo.WriteModel
	result *mongo.BulkWriteResult
	err    error
	ctxErr error
	calls  int
}

func (f *fakeCollection) BulkWrite(ctx context.Context, writes []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	f.calls++
	f.writes = writes
	f.ctxErr = ctx.Err()
	if f.result == nil {
		f.result = &mongo.BulkWriteResult{UpsertedCount: int64(len(writes))}
	}
	return f.result, f.err
}

type fakeTxn struct {
	calls int
}

func (f *fakeTxn) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

// retryingTxn reruns fn while it fails with a TransientTransactionError
// label, the way mongo.Session.WithTransaction does
type retryingTxn struct {
	attempts    int
	maxAttempts int
}

func (r *retryingTxn) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		r.attempts++
		err := fn(ctx)
		var labeled mongo.LabeledError
		if err != nil && errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError") &&
			r.attempts < r.maxAttempts {
			continue
		}
		return err
	}
}

var noSuchTransaction = mongo.CommandError{
	Code:    251,
	Name:    "NoSuchTransaction",
	Message: "Transaction has been aborted.",
	Labels:  []string{"TransientTransactionError"},
}

func newTestWriter(posts, accounts *fakeCollection) (*MongoWriter, *fakeTxn) {
	txn := &fakeTxn{}
	return &MongoWriter{posts: posts, accounts: accounts, txn: txn, timeout: time.Second}, txn
}

func testBatch() models.Batch {
	return models.Batch{
		Posts: []models.Post{
			{ID: "1", UserID: "u1", Text: "a"},
			{ID: "2", UserID: "u2", Text: "b"},
			{ID: "3", UserID: "u1", Text: "c"},
		},
		Accounts: []models.Account{
			{ID: "u1", Username: "one"},
			{ID: "u2", Username: "two"},
		},
	}
}

func TestMongoWriter_Commit(t *testing.T) {
	posts, accounts := &fakeCollection{}, &fakeCollection{}
	w, txn := newTestWriter(posts, accounts)

	res, err := w.Commit(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, 1, txn.calls)
	assert.Equal(t, CommitResult{PostsWritten: 3, AccountsWritten: 2}, res)

	require.Len(t, posts.writes, 3)
	replace, ok := posts.writes[0].(*mongo.ReplaceOneModel)
	require.True(t, ok, "writes must be full-document replaces")
	assert.Equal(t, bson.M{"_id": "1"}, replace.Filter)
	assert.Equal(t, models.Post{ID: "1", UserID: "u1", Text: "a"}, replace.Replacement)
	require.NotNil(t, replace.Upsert)
	assert.True(t, *replace.Upsert)

	require.Len(t, accounts.writes, 2)
	assert.Equal(t, bson.M{"_id": "u2"}, accounts.writes[1].(*mongo.ReplaceOneModel).Filter)
}

func TestMongoWriter_CommitEmpty(t *testing.T) {
	posts, accounts := &fakeCollection{}, &fakeCollection{}
	w, txn := newTestWriter(posts, accounts)

	res, err := w.Commit(context.Background(), models.Batch{})
	require.NoError(t, err)
	assert.Equal(t, CommitResult{}, res)
	assert.Zero(t, txn.calls)
}

func TestMongoWriter_RejectsMissingIDs(t *testing.T) {
	posts, accounts := &fakeCollection{}, &fakeCollection{}
	w, _ := newTestWriter(posts, accounts)

	batch := testBatch()
	batch.Posts = append(batch.Posts, models.Post{Text: "no id"})

	res, err := w.Commit(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.PostsWritten)
	assert.Equal(t, int64(1), res.PostsFailed)
	assert.Len(t, posts.writes, 3)
}

func TestMongoWriter_RejectedDocumentFailsFast(t *testing.T) {
	posts := &fakeCollection{
		result: &mongo.BulkWriteResult{UpsertedCount: 1, ModifiedCount: 1},
		err: mongo.BulkWriteException{
			WriteErrors: []mongo.BulkWriteError{
				{WriteError: mongo.WriteError{Index: 2, Code: 2, Message: "bad document"}},
			},
		},
	}
	// the server aborted the transaction, so the next statement fails
	accounts := &fakeCollection{err: noSuchTransaction}
	txn := &retryingTxn{maxAttempts: 5}
	w := &MongoWriter{posts: posts, accounts: accounts, txn: txn, timeout: time.Second}

	res, err := w.Commit(context.Background(), testBatch())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDocumentsRejected))
	assert.Contains(t, err.Error(), "bad document")
	assert.Equal(t, CommitResult{}, res)
	assert.Equal(t, 1, txn.attempts, "rejected documents must not be retried")
	assert.Equal(t, 1, posts.calls)
	assert.Zero(t, accounts.calls)
}

func TestMongoWriter_TransientErrorRetried(t *testing.T) {
	posts, accounts := &fakeCollection{}, &fakeCollection{err: noSuchTransaction}
	txn := &retryingTxn{maxAttempts: 3}
	w := &MongoWriter{posts: posts, accounts: accounts, txn: txn, timeout: time.Second}

	_, err := w.Commit(context.Background(), testBatch())
	require.Error(t, err)
	assert.Equal(t, 3, txn.attempts)
	assert.Equal(t, 3, accounts.calls)
}

func TestMongoWriter_AbortsOnFatalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network", errors.New("connection reset")},
		{"write concern", mongo.BulkWriteException{
			WriteConcernError: &mongo.WriteConcernError{Code: 64, Message: "waiting for replication timed out"},
		}},
		{"exception without write errors", mongo.BulkWriteException{
			Labels: []string{"TransientTransactionError"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, accounts := &fakeCollection{err: tt.err}, &fakeCollection{}
			w, _ := newTestWriter(posts, accounts)

			res, err := w.Commit(context.Background(), testBatch())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to write posts")
			assert.Equal(t, CommitResult{}, res)
			assert.Zero(t, accounts.calls, "accounts must not be written after posts fail")
		})
	}
}

func TestMongoWriter_IgnoresCallerCancellation(t *testing.T) {
	posts, accounts := &fakeCollection{}, &fakeCollection{}
	w, _ := newTestWriter(posts, accounts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Commit(ctx, testBatch())
	require.NoError(t, err)
	assert.NoError(t, posts.ctxErr)
	assert.NoError(t, accounts.ctxErr)
}

func TestReplaceByID_LastWriteWins(t *testing.T) {
	// two upserts for the same id in one group resolve to the later document
	writes, rejected := replaceByID([]models.Post{{ID: "1", Text: "old"}, {ID: "1", Text: "new"}},
		func(p models.Post) string { return p.ID })
	assert.Zero(t, rejected)
	require.Len(t, writes, 2)
	assert.Equal(t, "new", writes[1].(*mongo.ReplaceOneModel).Replacement.(models.Post).Text)
}
