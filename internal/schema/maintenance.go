package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	secondaryIndexesSQL = `
		SELECT c.relname, i.relname, pg_get_indexdef(ix.indexrelid)
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class c ON c.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema()
		  AND c.relname = ANY($1)
		  AND NOT ix.indisunique
		  AND NOT ix.indisprimary
		  AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = ix.indexrelid)
		ORDER BY c.relname, i.relname`

	deferredIndexesSQL = `SELECT table_name, index_name, definition FROM import_deferred_indexes ORDER BY table_name, index_name`

	recordDeferredSQL = `
		INSERT INTO import_deferred_indexes (index_name, table_name, definition, run_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (index_name) DO NOTHING`

	forgetDeferredSQL = `DELETE FROM import_deferred_indexes WHERE index_name = $1`
)

// IndexDefinition is a secondary index dropped for the duration of a load.
type IndexDefinition struct {
	Table      string
	Name       string
	Definition string
}

// CreateStatement is the definition made idempotent.
func (d IndexDefinition) CreateStatement() string {
	const plain = "CREATE INDEX "
	if strings.HasPrefix(d.Definition, plain) && !strings.HasPrefix(d.Definition, plain+"IF NOT EXISTS ") {
		return plain + "IF NOT EXISTS " + strings.TrimPrefix(d.Definition, plain)
	}
	return d.Definition
}

// MaintenanceWindow drops the non-unique secondary indexes of the
// destination tables before a bulk load and recreates them afterwards.
// Unique and constraint indexes always stay so conflict detection keeps
// working. Dropped definitions are persisted first, so a crashed run's
// indexes are restored by the next Open.
type MaintenanceWindow struct {
	db      *sql.DB
	tables  []string
	runID   string
	dryRun  bool
	dropped []IndexDefinition
	logger  zerolog.Logger
}

// NewMaintenanceWindow creates a window over tables. In dry-run mode Open and
// Close do nothing.
func NewMaintenanceWindow(db *sql.DB, tables []string, runID string, dryRun bool, logger zerolog.Logger) *MaintenanceWindow {
	return &MaintenanceWindow{db: db, tables: tables, runID: runID, dryRun: dryRun, logger: logger}
}

// Open restores leftovers from an interrupted run, then drops the current
// secondary indexes.
func (w *MaintenanceWindow) Open(ctx context.Context) error {
	if w.dryRun {
		w.logger.Info().Msg("dry run: leaving destination indexes in place")
		return nil
	}

	leftovers, err := w.loadDeferred(ctx)
	if err != nil {
		return err
	}
	if len(leftovers) > 0 {
		w.logger.Warn().Int("indexes", len(leftovers)).Msg("restoring indexes left dropped by a previous run")
		if err := w.recreate(ctx, leftovers); err != nil {
			return fmt.Errorf("failed to restore previous run's indexes: %w", err)
		}
	}

	defs, err := w.secondaryIndexes(ctx)
	if err != nil {
		return err
	}

	for _, d := range defs {
		if _, err := w.db.ExecContext(ctx, recordDeferredSQL, d.Name, d.Table, d.Definition, w.runID); err != nil {
			return fmt.Errorf("failed to record index %s: %w", d.Name, err)
		}
		if _, err := w.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+pq.QuoteIdentifier(d.Name)); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", d.Name, err)
		}
		w.dropped = append(w.dropped, d)
		w.logger.Debug().Str("table", d.Table).Str("index", d.Name).Msg("index dropped")
	}

	w.logger.Info().Int("indexes", len(w.dropped)).Strs("tables", w.tables).Msg("maintenance window open")
	return nil
}

// Close recreates every dropped index and analyzes the tables. It runs on
// success and failure alike, uses its own context so a cancelled run still
// restores, and reports all failures together.
func (w *MaintenanceWindow) Close(ctx context.Context) error {
	if w.dryRun {
		return nil
	}

	var errs []error
	if err := w.recreate(ctx, w.dropped); err != nil {
		errs = append(errs, err)
	}
	for _, t := range w.tables {
		if _, err := w.db.ExecContext(ctx, "ANALYZE "+pq.QuoteIdentifier(t)); err != nil {
			errs = append(errs, fmt.Errorf("failed to analyze %s: %w", t, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		w.logger.Error().Err(err).Msg("maintenance window closed with errors")
		return err
	}
	w.logger.Info().Int("indexes", len(w.dropped)).Msg("maintenance window closed")
	w.dropped = nil
	return nil
}

func (w *MaintenanceWindow) recreate(ctx context.Context, defs []IndexDefinition) error {
	var errs []error
	for _, d := range defs {
		if _, err := w.db.ExecContext(ctx, d.CreateStatement()); err != nil {
			errs = append(errs, fmt.Errorf("failed to recreate index %s: %w", d.Name, err))
			continue
		}
		if _, err := w.db.ExecContext(ctx, forgetDeferredSQL, d.Name); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear deferred index %s: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (w *MaintenanceWindow) secondaryIndexes(ctx context.Context) ([]IndexDefinition, error) {
	rows, err := w.db.QueryContext(ctx, secondaryIndexesSQL, pq.Array(w.tables))
	if err != nil {
		return nil, fmt.Errorf("failed to list secondary indexes: %w", err)
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

func (w *MaintenanceWindow) loadDeferred(ctx context.Context) ([]IndexDefinition, error) {
	rows, err := w.db.QueryContext(ctx, deferredIndexesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to read deferred indexes: %w", err)
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

func scanDefinitions(rows *sql.Rows) ([]IndexDefinition, error) {
	var defs []IndexDefinition
	for rows.Next() {
		var d IndexDefinition
		if err := rows.Scan(&d.Table, &d.Name, &d.Definition); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
