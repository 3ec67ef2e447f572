package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/woonkaart/importer/internal/config"
	"github.com/woonkaart/importer/internal/db"
	"github.com/woonkaart/importer/internal/index"
	"github.com/woonkaart/importer/internal/load"
	"github.com/woonkaart/importer/internal/logging"
	"github.com/woonkaart/importer/internal/match"
	"github.com/woonkaart/importer/internal/mirror"
	"github.com/woonkaart/importer/internal/pipeline"
	"github.com/woonkaart/importer/internal/schema"
	"github.com/woonkaart/importer/internal/status"
)

var destinationTables = []string{load.ListingsTable.Name, load.PriceHistoryTable.Name}

func runImport(ctx context.Context, cfg *config.ImportConfig) error {
	start := time.Now()
	runID := uuid.NewString()
	logger := logging.Logger().With().Str("run_id", runID).Logger()

	logger.Info().
		Bool("dry_run", cfg.DryRun).
		Str("city", cfg.City).
		Int("sources", len(cfg.Mirrors)).
		Msg("import starting")

	// Every store must be reachable before anything is written.
	dest, err := db.Open(ctx, "destination", cfg.DestinationDSN, cfg.MaxOpenConns)
	if err != nil {
		return err
	}
	defer dest.Close()

	sources := make([]pipeline.Source, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		conn, err := db.Open(ctx, m.Name, m.DSN, cfg.MaxOpenConns)
		if err != nil {
			return err
		}
		defer conn.Close()
		sources = append(sources, mirror.NewReader(m.Name, conn.DB, cfg.MirrorPageSize, cfg.City))
	}

	metrics := status.NewMetrics()
	board := status.NewBoard(runID, cfg.DryRun, metrics)
	if cfg.StatusAddr != "" {
		srv := status.NewServer(cfg.StatusAddr, board, metrics, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	loader := index.NewLoader(dest.DB, cfg.IndexPageSize, cfg.ProgressEvery, logger)
	propertyIndex, indexStats, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	window := schema.NewMaintenanceWindow(dest.DB, destinationTables, runID, cfg.DryRun, logger)
	return withMaintenanceWindow(ctx, window, func(ctx context.Context) error {
		spatial := match.NewSpatialMatcher(dest.DB, match.SpatialConfig{
			RadiusMeters:      cfg.SpatialRadiusMeters,
			ReferenceLatitude: cfg.SpatialReferenceLatitude,
			InsertBatchRows:   cfg.BatchMaxRows,
		}, logger)

		orchestrator := pipeline.New(
			match.NewExactMatcher(propertyIndex),
			spatial,
			sinks(dest.DB, cfg.DryRun),
			pipeline.Config{
				BatchMaxRows:  cfg.BatchMaxRows,
				ProgressEvery: cfg.ProgressEvery,
				ErrorLogLimit: cfg.ErrorLogLimit,
			},
			logger,
			pipeline.WithFlushObserver(metrics),
			pipeline.WithReporter(board),
		)

		stats, runErr := orchestrator.Run(ctx, sources)

		summary := pipeline.Summary{
			RunID:           runID,
			DryRun:          cfg.DryRun,
			Sources:         stats,
			IndexSize:       propertyIndex.Len(),
			IndexCollisions: indexStats.Collisions,
			Elapsed:         time.Since(start),
		}
		summary.Log(logger)
		if werr := summary.Write(os.Stdout); werr != nil {
			logger.Warn().Err(werr).Msg("failed to write summary")
		}
		return runErr
	})
}

// maintenanceWindow is the index drop and recreate bracket around the load.
type maintenanceWindow interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// withMaintenanceWindow runs fn inside w. Close runs on every exit path,
// including a failed Open and cancellation, with a context that is never
// cancelled. Its error is joined into the result.
func withMaintenanceWindow(ctx context.Context, w maintenanceWindow, fn func(context.Context) error) (err error) {
	defer func() {
		if cerr := w.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	if err := w.Open(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// sinks picks where matched rows go: read-only existence checks in dry-run,
// conflict-skipping inserts otherwise.
func sinks(dest *sql.DB, dryRun bool) pipeline.Sinks {
	if dryRun {
		return pipeline.Sinks{
			Listings:     load.NewListingExistenceCheck(dest),
			PriceHistory: load.NewPriceHistoryExistenceCheck(dest),
		}
	}
	return pipeline.Sinks{
		Listings:     load.NewPostgresFlusher[load.ListingRow](dest, load.ListingsTable),
		PriceHistory: load.NewPostgresFlusher[load.PriceHistoryRow](dest, load.PriceHistoryTable),
	}
}

// createPingCmd checks connectivity to every configured store.
func createPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test connectivity to the destination and mirror databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger := *logging.Logger()

			var errs []error
			check := func(name, dsn, countQuery string) {
				conn, err := db.Open(cmd.Context(), name, dsn, 1)
				if err != nil {
					errs = append(errs, err)
					logger.Error().Err(err).Str("store", name).Msg("unreachable")
					return
				}
				defer conn.Close()
				logCount(cmd.Context(), logger, conn, countQuery)
			}

			check("destination", cfg.DestinationDSN, "SELECT count(*) FROM properties")
			for _, m := range cfg.Mirrors {
				check(m.Name, m.DSN, "SELECT count(*) FROM listings")
			}
			return errors.Join(errs...)
		},
	}
}

func logCount(ctx context.Context, logger zerolog.Logger, conn *db.Connection, query string) {
	var n int64
	if err := conn.DB.QueryRowContext(ctx, query).Scan(&n); err != nil {
		logger.Warn().Err(err).Str("store", conn.Name).Msg("connected, but count failed")
		return
	}
	logger.Info().Str("store", conn.Name).Int64("rows", n).Msg("connected")
}

// createSetupDBCmd applies the destination schema.
func createSetupDBCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "setup-db",
		Short: "Create the destination tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), "destination", cfg.DestinationDSN, 1)
			if err != nil {
				return err
			}
			defer conn.Close()
			return schema.Apply(cmd.Context(), conn.DB, *logging.Logger())
		},
	}
}
