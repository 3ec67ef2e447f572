package load

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/woonkaart/importer/internal/sqlbatch"
)

// Flusher persists (or, in dry-run, evaluates) one batch of distinct rows and
// reports how many of them were newly inserted. Rows not inserted are
// duplicates of rows already in the destination.
type Flusher[R Row] interface {
	Flush(ctx context.Context, rows []R) (inserted int, err error)
}

// FlushObserver receives one call per flush attempt, e.g. for metrics.
type FlushObserver interface {
	ObserveFlush(source, table string, rows, inserted int, elapsed time.Duration, err error)
}

// WriteStats are the Batch Writer counters.
type WriteStats struct {
	Inserted      int
	Duplicates    int
	FailedBatches int
	DroppedRows   int
	Flushes       int
}

// Writer buffers rows and flushes them in batches sized so that
// rows × columns stays under the bind-parameter limit.
//
// A failed batch is logged (up to the error log limit), counted and dropped;
// the writer keeps going with the next batch.
type Writer[R Row] struct {
	source    string
	table     Table
	flusher   Flusher[R]
	seen      *SeenKeys
	batchSize int
	buf       []R
	stats     WriteStats
	errs      *ErrorLog
	observer  FlushObserver
	logger    zerolog.Logger
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Source       string
	Table        Table
	MaxBatchRows int
	// Seen is shared by every writer of the same table in a run.
	Seen     *SeenKeys
	ErrorLog *ErrorLog
	Observer FlushObserver
	Logger   zerolog.Logger
}

// NewWriter creates a batch writer.
func NewWriter[R Row](cfg WriterConfig, flusher Flusher[R]) *Writer[R] {
	seen := cfg.Seen
	if seen == nil {
		seen = NewSeenKeys()
	}
	errs := cfg.ErrorLog
	if errs == nil {
		errs = NewErrorLog(20)
	}
	size := sqlbatch.MaxRows(len(cfg.Table.Columns), cfg.MaxBatchRows)
	return &Writer[R]{
		source:    cfg.Source,
		table:     cfg.Table,
		flusher:   flusher,
		seen:      seen,
		batchSize: size,
		buf:       make([]R, 0, size),
		errs:      errs,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}
}

// BatchSize is the number of rows per flush.
func (w *Writer[R]) BatchSize() int { return w.batchSize }

// Add buffers a row, flushing when the buffer is full. A row whose key was
// already accepted in this run is counted as a duplicate and not buffered.
// The only error returned is the context's, checked at batch boundaries.
func (w *Writer[R]) Add(ctx context.Context, row R) error {
	if !w.seen.Mark(row.Key()) {
		w.stats.Duplicates++
		return nil
	}
	w.buf = append(w.buf, row)
	if len(w.buf) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered rows.
func (w *Writer[R]) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := w.buf
	start := time.Now()
	inserted, err := w.flusher.Flush(ctx, batch)
	elapsed := time.Since(start)

	if w.observer != nil {
		w.observer.ObserveFlush(w.source, w.table.Name, len(batch), inserted, elapsed, err)
	}

	w.stats.Flushes++
	if err != nil {
		w.stats.FailedBatches++
		w.stats.DroppedRows += len(batch)
		w.errs.Log(w.logger, err, w.table.Name, len(batch))
	} else {
		w.stats.Inserted += inserted
		w.stats.Duplicates += len(batch) - inserted
		w.logger.Debug().
			Str("table", w.table.Name).
			Int("rows", len(batch)).
			Int("inserted", inserted).
			Dur("took", elapsed).
			Msg("batch flushed")
	}

	w.buf = w.buf[:0]
	return ctx.Err()
}

// Stats returns the counters so far.
func (w *Writer[R]) Stats() WriteStats { return w.stats }
