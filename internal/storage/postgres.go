package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/models"
)

const pqUniqueViolation = "23505"

// PostgresLedger implements Ledger on a PostgreSQL table with filename as
// primary key
type PostgresLedger struct {
	db    *sql.DB
	table string
}

// NewPostgresLedger connects to PostgreSQL and creates the ledger table if needed
func NewPostgresLedger(ctx context.Context, cfg config.LedgerConfig) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	ledger := newPostgresLedger(db, cfg.TableName)
	if err := ledger.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ledger, nil
}

func newPostgresLedger(db *sql.DB, table string) *PostgresLedger {
	return &PostgresLedger{db: db, table: pq.QuoteIdentifier(table)}
}

func (p *PostgresLedger) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		filename          TEXT PRIMARY KEY,
		processed_at      TIMESTAMPTZ NOT NULL,
		run_id            TEXT,
		total_tweets      BIGINT NOT NULL,
		successful_tweets BIGINT NOT NULL,
		users             BIGINT NOT NULL,
		errors            BIGINT NOT NULL,
		completed_at      TIMESTAMPTZ NOT NULL
	)`, p.table)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// IsProcessed reports whether a checkpoint row exists for filename
func (p *PostgresLedger) IsProcessed(ctx context.Context, filename string) (bool, error) {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE filename = $1)", p.table)
	if err := p.db.QueryRowContext(ctx, query, filename).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up checkpoint for %s: %w", filename, err)
	}
	return exists, nil
}

// MarkProcessed inserts a checkpoint row
func (p *PostgresLedger) MarkProcessed(ctx context.Context, record models.CheckpointRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(filename, processed_at, run_id, total_tweets, successful_tweets, users, errors, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, p.table)

	_, err := p.db.ExecContext(ctx, query,
		record.Filename,
		record.ProcessedAt,
		sql.NullString{String: record.RunID, Valid: record.RunID != ""},
		record.Stats.TotalTweets,
		record.Stats.SuccessfulTweets,
		record.Stats.Users,
		record.Stats.Errors,
		record.Stats.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%w: %s", ErrAlreadyProcessed, record.Filename)
		}
		return fmt.Errorf("failed to store checkpoint for %s: %w", record.Filename, err)
	}
	return nil
}

// List returns all checkpoint rows ordered by filename
func (p *PostgresLedger) List(ctx context.Context) ([]models.CheckpointRecord, error) {
	query := fmt.Sprintf(`SELECT filename, processed_at, run_id, total_tweets, successful_tweets, users, errors, completed_at
		FROM %s ORDER BY filename`, p.table)
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var records []models.CheckpointRecord
	for rows.Next() {
		var (
			rec   models.CheckpointRecord
			runID sql.NullString
		)
		if err := rows.Scan(
			&rec.Filename,
			&rec.ProcessedAt,
			&runID,
			&rec.Stats.TotalTweets,
			&rec.Stats.SuccessfulTweets,
			&rec.Stats.Users,
			&rec.Stats.Errors,
			&rec.Stats.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		rec.RunID = runID.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return records, nil
}

// Close closes the database connection pool
func (p *PostgresLedger) Close() error {
	return p.db.Close()
}
