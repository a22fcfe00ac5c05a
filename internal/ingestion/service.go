package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/cyderes/tweet-ingest/internal/batch"
	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/metrics"
	"github.com/cyderes/tweet-ingest/internal/models"
	"github.com/cyderes/tweet-ingest/internal/resource"
	"github.com/cyderes/tweet-ingest/internal/source"
	"github.com/cyderes/tweet-ingest/internal/storage"
	"github.com/cyderes/tweet-ingest/internal/transform"
)

// ErrListFiles is returned when the input directory cannot be listed
var ErrListFiles = errors.New("failed to list input files")

// Service drives file discovery, streaming, batching and checkpointing
type Service struct {
	config  config.IngestionConfig
	ledger  storage.Ledger
	writer  storage.BatchWriter
	monitor resource.Monitor
	metrics metrics.IngestMetrics
	logger  *zap.Logger

	runID      string
	sleep      func(ctx context.Context, d time.Duration) error
	afterBatch func()
	now        func() time.Time
}

// Option customizes a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m metrics.IngestMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRunID tags checkpoints written by this service
func WithRunID(id string) Option {
	return func(s *Service) { s.runID = id }
}

// WithSleep replaces the context-aware wait used for every delay
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithAfterBatch sets a hook run after each batch commit
func WithAfterBatch(fn func()) Option {
	return func(s *Service) { s.afterBatch = fn }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new ingestion service
func NewService(cfg config.IngestionConfig, ledger storage.Ledger, writer storage.BatchWriter, monitor resource.Monitor, opts ...Option) *Service {
	s := &Service{
		config:  cfg,
		ledger:  ledger,
		writer:  writer,
		monitor: monitor,
		metrics: metrics.Noop{},
		logger:  zap.NewNop(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	if cfg.FreeMemoryAfterBatch {
		s.afterBatch = debug.FreeOSMemory
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunDir ingests every matching file of dir in name order
func (s *Service) RunDir(ctx context.Context, dir string) (models.RunSummary, error) {
	files, err := source.ListFiles(dir, s.config.FileSuffix)
	if err != nil {
		return models.RunSummary{RunID: s.runID}, fmt.Errorf("%w: %w", ErrListFiles, err)
	}
	s.logger.Info("Discovered input files",
		zap.String("dir", dir),
		zap.Int("files", len(files)),
	)
	return s.Run(ctx, files)
}

// Run ingests files one after another. A failing file is recorded in the
// summary and the run moves on; only cancellation stops the run early.
func (s *Service) Run(ctx context.Context, files []string) (models.RunSummary, error) {
	start := s.now()
	summary := models.RunSummary{RunID: s.runID, TotalFiles: len(files)}

	for i, path := range files {
		name := filepath.Base(path)
		if err := ctx.Err(); err != nil {
			summary.Duration = s.now().Sub(start)
			return summary, err
		}

		s.logger.Info("Processing file",
			zap.String("file", name),
			zap.Int("index", i+1),
			zap.Int("total", len(files)),
		)

		stats, skipped, err := s.ProcessFile(ctx, path)
		pause := s.config.FilePause
		switch {
		case err != nil && ctx.Err() != nil:
			s.logger.Warn("Ingestion interrupted",
				zap.String("file", name),
				zap.Int64("records", stats.TotalTweets),
			)
			summary.Duration = s.now().Sub(start)
			return summary, ctx.Err()
		case err != nil:
			summary.Fail(name, err)
			s.metrics.IncFiles(metrics.FileFailed)
			s.logger.Error("File failed", zap.String("file", name), zap.Error(err))
			pause *= 2
		case skipped:
			summary.SkippedFiles++
			s.metrics.IncFiles(metrics.FileSkipped)
			s.logger.Info("Skipping already processed file", zap.String("file", name))
			continue
		default:
			summary.Add(stats)
			s.metrics.IncFiles(metrics.FileProcessed)
			s.logProgress(ctx, stats, summary)
		}

		if i < len(files)-1 {
			if err := s.sleep(ctx, pause); err != nil {
				summary.Duration = s.now().Sub(start)
				return summary, err
			}
		}
	}

	summary.Duration = s.now().Sub(start)
	s.logger.Info("Ingestion completed",
		zap.String("run_id", summary.RunID),
		zap.Int("files", summary.TotalFiles),
		zap.Int("processed", summary.ProcessedFiles),
		zap.Int("skipped", summary.SkippedFiles),
		zap.Int("failed", summary.FailedFiles),
		zap.Int64("tweets", summary.TotalTweets),
		zap.Int64("successful", summary.SuccessfulTweets),
		zap.Int64("users", summary.TotalUsers),
		zap.Int64("errors", summary.TotalErrors),
		zap.String("error_rate", fmt.Sprintf("%.2f%%", summary.ErrorRate())),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// ProcessFile ingests one file unless the ledger already has it. It reports
// skipped=true for files that were already processed.
func (s *Service) ProcessFile(ctx context.Context, path string) (stats models.FileStats, skipped bool, err error) {
	name := filepath.Base(path)
	stats.Filename = name

	done, err := s.ledger.IsProcessed(ctx, name)
	if err != nil {
		return stats, false, fmt.Errorf("failed to check checkpoint for %s: %w", name, err)
	}
	if done {
		return stats, true, nil
	}

	r, err := source.Open(path)
	if err != nil {
		return stats, false, err
	}
	defer r.Close()
	s.logger.Debug("Opened file", zap.String("file", name), zap.Strings("columns", r.Header()))

	started := s.now()
	buf := batch.NewBuffer(s.config.BatchSize)

	for {
		if err := s.waitForResources(ctx); err != nil {
			return stats, false, err
		}

		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var recErr *source.RecordError
			if errors.As(err, &recErr) {
				stats.TotalTweets++
				stats.Errors++
				s.metrics.IncRecords()
				s.metrics.IncErrors(metrics.ErrorRecord, 1)
				s.logger.Debug("Skipping unparseable row", zap.String("file", name), zap.Error(err))
				continue
			}
			return stats, false, fmt.Errorf("failed to read %s after %d rows: %w", name, r.Rows(), err)
		}

		stats.TotalTweets++
		s.metrics.IncRecords()

		post, account, err := transform.Transform(rec)
		if err != nil {
			stats.Errors++
			s.metrics.IncErrors(metrics.ErrorTransform, 1)
			s.logger.Debug("Dropping row", zap.String("file", name), zap.Error(err))
			continue
		}

		if buf.Add(post, account) {
			stats.Users++
		}

		if buf.Size() >= s.config.BatchSize {
			s.commit(ctx, buf, &stats)
			if err := s.sleep(ctx, s.config.BatchDelay); err != nil {
				return stats, false, err
			}
		}
	}

	if buf.Size() > 0 {
		s.commit(ctx, buf, &stats)
	}
	stats.Duration = s.now().Sub(started)

	completed := s.now().UTC()
	record := models.CheckpointRecord{
		Filename:    name,
		ProcessedAt: completed,
		RunID:       s.runID,
		Stats:       stats.Checkpoint(completed),
	}
	if err := s.ledger.MarkProcessed(ctx, record); err != nil {
		if !errors.Is(err, storage.ErrAlreadyProcessed) {
			return stats, false, fmt.Errorf("failed to record checkpoint for %s: %w", name, err)
		}
		s.logger.Warn("Checkpoint already recorded by another run", zap.String("file", name))
	}
	return stats, false, nil
}

// commit drains the buffer into the writer. The buffer is empty afterwards
// whether or not the commit succeeded.
func (s *Service) commit(ctx context.Context, buf *batch.Buffer, stats *models.FileStats) {
	s.logger.Debug("Committing batch",
		zap.String("file", stats.Filename),
		zap.Int("posts", buf.Size()),
		zap.Int("accounts", buf.Accounts()),
	)
	b := buf.Drain()
	stats.Batches++

	start := time.Now()
	res, err := s.writer.Commit(ctx, b)
	s.metrics.ObserveCommit(time.Since(start))

	if err != nil {
		stats.Errors++
		s.metrics.IncErrors(metrics.ErrorCommit, 1)
		s.logger.Error("Batch commit failed",
			zap.String("file", stats.Filename),
			zap.Int("posts", len(b.Posts)),
			zap.Int("accounts", len(b.Accounts)),
			zap.Error(err),
		)
	} else {
		stats.SuccessfulTweets += res.PostsWritten
		if failed := res.PostsFailed + res.AccountsFailed; failed > 0 {
			stats.Errors += failed
			s.metrics.IncErrors(metrics.ErrorWrite, failed)
			s.logger.Warn("Documents rejected in batch",
				zap.String("file", stats.Filename),
				zap.Int64("posts_failed", res.PostsFailed),
				zap.Int64("accounts_failed", res.AccountsFailed),
			)
		}
		s.metrics.AddPostsWritten(res.PostsWritten)
		s.metrics.AddAccountsWritten(res.AccountsWritten)
	}

	if s.afterBatch != nil {
		s.afterBatch()
	}
}

// waitForResources blocks while the host is under pressure, up to
// ThrottleMaxWait when that is set
func (s *Service) waitForResources(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.config.ThrottleDelay <= 0 {
		return nil
	}

	var waited time.Duration
	for s.monitor.ShouldThrottle(ctx) {
		if s.config.ThrottleMaxWait > 0 && waited >= s.config.ThrottleMaxWait {
			s.logger.Warn("Resource pressure persists, resuming ingestion",
				zap.Duration("waited", waited),
			)
			return nil
		}
		if waited == 0 {
			s.logger.Info("Resource pressure, pausing ingestion",
				zap.Duration("delay", s.config.ThrottleDelay),
			)
		}
		s.metrics.IncThrottlePauses()
		if err := s.sleep(ctx, s.config.ThrottleDelay); err != nil {
			return err
		}
		waited += s.config.ThrottleDelay
	}
	return ctx.Err()
}

func (s *Service) logProgress(ctx context.Context, stats models.FileStats, summary models.RunSummary) {
	fields := []zap.Field{
		zap.String("file", stats.Filename),
		zap.Int64("tweets", stats.TotalTweets),
		zap.Int64("successful", stats.SuccessfulTweets),
		zap.Int64("users", stats.Users),
		zap.Int64("errors", stats.Errors),
		zap.Int64("batches", stats.Batches),
		zap.Duration("duration", stats.Duration),
		zap.Int64("cumulative_tweets", summary.TotalTweets),
		zap.Int64("cumulative_successful", summary.SuccessfulTweets),
		zap.Int64("cumulative_errors", summary.TotalErrors),
	}
	if sample, err := s.monitor.Sample(ctx); err == nil {
		s.metrics.SetResources(sample.MemoryPercent, sample.CPUPercent)
		fields = append(fields,
			zap.Float64("memory_percent", sample.MemoryPercent),
			zap.Float64("cpu_percent", sample.CPUPercent),
		)
	}
	s.logger.Info("File processed", fields...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
