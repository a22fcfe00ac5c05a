package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/ingestion"
	"github.com/cyderes/tweet-ingest/internal/logging"
	"github.com/cyderes/tweet-ingest/internal/metrics"
	"github.com/cyderes/tweet-ingest/internal/resource"
	"github.com/cyderes/tweet-ingest/internal/server"
	"github.com/cyderes/tweet-ingest/internal/storage"
)

const (
	metricsNamespace = "tweet_ingest"
	shutdownTimeout  = 30 * time.Second
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "tweet-ingest",
		Short:         "Load tweet CSV exports into MongoDB",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(a.runCmd(), a.indexesCmd(), a.checkpointsCmd())
	return root
}

func (a *app) runCmd() *cobra.Command {
	var (
		dir       string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest every unprocessed file of the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir != "" {
				a.cfg.Ingestion.DataDir = dir
			}
			if batchSize != 0 {
				a.cfg.Ingestion.BatchSize = batchSize
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory holding the CSV files (overrides config)")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "records per transaction (overrides config)")
	return cmd
}

func (a *app) indexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create the configured MongoDB indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := storage.Connect(ctx, a.cfg.Mongo, a.logger)
			if err != nil {
				return err
			}
			defer disconnect(client, a.logger)

			names, err := storage.EnsureIndexes(ctx, client.Database(a.cfg.Mongo.Database), a.cfg.Collections)
			if err != nil {
				return err
			}
			a.logger.Info("Indexes ready", zap.Strings("indexes", names))
			return nil
		},
	}
}

func (a *app) checkpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "Print the files already ingested",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var db *mongo.Database
			if a.cfg.Ledger.Type == config.LedgerMongoDB {
				client, err := storage.Connect(ctx, a.cfg.Mongo, a.logger)
				if err != nil {
					return err
				}
				defer disconnect(client, a.logger)
				db = client.Database(a.cfg.Mongo.Database)
			}

			ledger, err := storage.NewLedger(ctx, a.cfg, db)
			if err != nil {
				return fmt.Errorf("failed to initialize ledger: %w", err)
			}
			defer ledger.Close()

			records, err := ledger.List(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
}

// run wires the pipeline and, when a port is configured, the status server.
// The server stops once the run finishes.
func (a *app) run(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	client, err := storage.Connect(ctx, cfg.Mongo, logger)
	if err != nil {
		return err
	}
	defer disconnect(client, logger)
	db := client.Database(cfg.Mongo.Database)

	ledger, err := storage.NewLedger(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	defer ledger.Close()

	runID := uuid.NewString()
	m := metrics.New(metricsNamespace, prometheus.DefaultRegisterer)
	monitor := resource.NewSystemMonitor(resource.Limits{
		MaxMemoryPercent: cfg.Ingestion.MaxMemoryPercent,
		MaxCPUPercent:    cfg.Ingestion.MaxCPUPercent,
	})
	writer := storage.NewMongoWriter(client, db, cfg.Collections, cfg.Ingestion.WriteTimeout)

	service := ingestion.NewService(cfg.Ingestion, ledger, writer, monitor,
		ingestion.WithLogger(logger.With(zap.String("run_id", runID))),
		ingestion.WithMetrics(m),
		ingestion.WithRunID(runID),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		_, err := service.RunDir(runCtx, cfg.Ingestion.DataDir)
		return err
	})

	if cfg.Server.Port > 0 {
		httpServer := server.NewServer(cfg.Server, ledger, metrics.Handler(prometheus.DefaultGatherer), logger)
		g.Go(func() error {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Ingestion interrupted; unfinished files will be reprocessed on the next run")
		}
		return err
	}
	return nil
}

func disconnect(client *mongo.Client, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("MongoDB disconnect error", zap.Error(err))
	}
}
