// Package pipeline drives the import: one source at a time, listings then
// price history, exact match first and the spatial fallback for the rest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/woonkaart/importer/internal/load"
	"github.com/woonkaart/importer/internal/logging"
	"github.com/woonkaart/importer/internal/match"
	"github.com/woonkaart/importer/internal/mirror"
)

// Source streams one mirror database. Rows that cannot be decoded go to
// reject instead of fn.
type Source interface {
	Name() string
	Listings(ctx context.Context, fn func(mirror.Listing) error, reject func(mirror.Rejected)) error
	PriceEvents(ctx context.Context, fn func(mirror.PriceEvent) error, reject func(mirror.Rejected)) error
}

// AddressMatcher resolves raw address fields to a property id.
type AddressMatcher interface {
	Match(postalCode, houseNumber, addition string) (int64, match.Method, bool)
}

// SpatialResolver resolves coordinates to the nearest property in radius.
type SpatialResolver interface {
	Resolve(ctx context.Context, points []match.Point) (map[string]match.SpatialMatch, error)
}

// Reporter receives stats snapshots while a source runs and once it is done.
type Reporter interface {
	Update(stats Stats)
}

// Sinks are the flushers rows end up in. Live runs use Postgres flushers;
// dry runs use read-only existence checks.
type Sinks struct {
	Listings     load.Flusher[load.ListingRow]
	PriceHistory load.Flusher[load.PriceHistoryRow]
}

// Config tunes the orchestrator.
type Config struct {
	BatchMaxRows  int
	ProgressEvery int
	ErrorLogLimit int
}

// Orchestrator runs every source through match and load.
type Orchestrator struct {
	exact    AddressMatcher
	spatial  SpatialResolver
	sinks    Sinks
	config   Config
	observer load.FlushObserver
	reporter Reporter
	logger   zerolog.Logger

	listingKeys *load.SeenKeys
	priceKeys   *load.SeenKeys
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithFlushObserver attaches a flush observer to every writer.
func WithFlushObserver(o load.FlushObserver) Option {
	return func(or *Orchestrator) { or.observer = o }
}

// WithReporter attaches a stats reporter.
func WithReporter(r Reporter) Option {
	return func(or *Orchestrator) { or.reporter = r }
}

// New creates an orchestrator. Duplicate tracking spans every source run by
// it, so a listing URL seen in sourceA is a duplicate when sourceB repeats it.
func New(exact AddressMatcher, spatial SpatialResolver, sinks Sinks, config Config, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 10000
	}
	o := &Orchestrator{
		exact:       exact,
		spatial:     spatial,
		sinks:       sinks,
		config:      config,
		logger:      logger,
		listingKeys: load.NewSeenKeys(),
		priceKeys:   load.NewSeenKeys(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes sources sequentially. A source whose mirror fails mid-read
// is recorded in its own stats (Errors, Done=false) and the next source still
// runs. The error is non-nil only when ctx was cancelled; the stats then
// cover every source that was started.
func (o *Orchestrator) Run(ctx context.Context, sources []Source) ([]Stats, error) {
	all := make([]Stats, 0, len(sources))
	for _, src := range sources {
		stats, err := o.RunSource(ctx, src)
		all = append(all, stats)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// RunSource imports one source's listings and then its price history. A read
// failure in one table is counted and the other table is still attempted.
// Only cancellation is returned as an error.
func (o *Orchestrator) RunSource(ctx context.Context, src Source) (Stats, error) {
	start := time.Now()
	stats := Stats{Source: src.Name()}
	logger := o.logger.With().Str("source", src.Name()).Logger()
	errLog := load.NewErrorLog(o.config.ErrorLogLimit)
	complete := true

	finish := func(err error) (Stats, error) {
		stats.Elapsed = time.Since(start)
		stats.Done = err == nil && complete
		o.report(stats)
		return stats, err
	}
	failed := func(table string, err error) {
		complete = false
		stats.Errors++
		logger.Error().Err(err).Str("table", table).Msg("mirror read failed; source incomplete")
	}

	logger.Info().Msg("importing listings")
	listings := load.NewWriter[load.ListingRow](o.writerConfig(src.Name(), load.ListingsTable, o.listingKeys, errLog, logger), o.sinks.Listings)
	err := o.importListings(ctx, src, listings, &stats, logger)
	o.foldWrites(&stats, listings.Stats(), &stats.ListingsInserted)
	if err != nil {
		if ctx.Err() != nil {
			return finish(fmt.Errorf("%s listings: %w", src.Name(), err))
		}
		failed(load.ListingsTable.Name, err)
	}

	logger.Info().Msg("importing price history")
	prices := load.NewWriter[load.PriceHistoryRow](o.writerConfig(src.Name(), load.PriceHistoryTable, o.priceKeys, errLog, logger), o.sinks.PriceHistory)
	err = o.importPriceHistory(ctx, src, prices, &stats, logger)
	o.foldWrites(&stats, prices.Stats(), &stats.PriceHistoryInserted)
	if err != nil {
		if ctx.Err() != nil {
			return finish(fmt.Errorf("%s price history: %w", src.Name(), err))
		}
		failed(load.PriceHistoryTable.Name, err)
	}

	if n := errLog.Suppressed(); n > 0 {
		logger.Warn().Int("suppressed", n).Msg("batch errors not logged")
	}
	logger.Info().
		Int("matched", stats.Matched).
		Int("skipped", stats.Skipped).
		Int("duplicate", stats.Duplicate).
		Int("errors", stats.Errors).
		Bool("complete", complete).
		Dur("elapsed", time.Since(start)).
		Msg("source finished")
	return finish(nil)
}

func (o *Orchestrator) writerConfig(source string, table load.Table, seen *load.SeenKeys, errLog *load.ErrorLog, logger zerolog.Logger) load.WriterConfig {
	return load.WriterConfig{
		Source:       source,
		Table:        table,
		MaxBatchRows: o.config.BatchMaxRows,
		Seen:         seen,
		ErrorLog:     errLog,
		Observer:     o.observer,
		Logger:       logger,
	}
}

func (o *Orchestrator) foldWrites(stats *Stats, ws load.WriteStats, inserted *int) {
	*inserted += ws.Inserted
	stats.Duplicate += ws.Duplicates
	stats.Errors += ws.FailedBatches
	stats.DroppedRows += ws.DroppedRows
}

func (o *Orchestrator) importListings(ctx context.Context, src Source, w *load.Writer[load.ListingRow], stats *Stats, logger zerolog.Logger) error {
	emit := func(l mirror.Listing, propertyID int64, method match.Method) error {
		row, err := load.NewListingRow(src.Name(), l, propertyID, string(method))
		if err != nil {
			logger.Debug().Err(err).Int64("mirror_id", l.ID).Msg("listing skipped")
			stats.skip(skipInvalid)
			return nil
		}
		stats.countMatch(method)
		return w.Add(ctx, row)
	}
	live := func() Stats {
		s := *stats
		o.foldWrites(&s, w.Stats(), &s.ListingsInserted)
		return s
	}

	r := resolver[mirror.Listing]{o: o, table: load.ListingsTable.Name, stats: stats, read: &stats.ListingsRead, logger: logger, emit: emit, live: live}
	stream := func(fn func(mirror.Listing) error, reject func(mirror.Rejected)) error {
		return src.Listings(ctx, fn, reject)
	}
	return flushAfter(ctx, w, r.run(ctx, stream, func(l mirror.Listing) mirror.AddressFields { return l.Address }))
}

func (o *Orchestrator) importPriceHistory(ctx context.Context, src Source, w *load.Writer[load.PriceHistoryRow], stats *Stats, logger zerolog.Logger) error {
	emit := func(e mirror.PriceEvent, propertyID int64, method match.Method) error {
		row, err := load.NewPriceHistoryRow(src.Name(), e, propertyID)
		if err != nil {
			logger.Debug().Err(err).Int64("mirror_id", e.ID).Msg("price event skipped")
			stats.skip(skipInvalid)
			return nil
		}
		stats.countMatch(method)
		return w.Add(ctx, row)
	}
	live := func() Stats {
		s := *stats
		o.foldWrites(&s, w.Stats(), &s.PriceHistoryInserted)
		return s
	}

	r := resolver[mirror.PriceEvent]{o: o, table: load.PriceHistoryTable.Name, stats: stats, read: &stats.PriceEventsRead, logger: logger, emit: emit, live: live}
	stream := func(fn func(mirror.PriceEvent) error, reject func(mirror.Rejected)) error {
		return src.PriceEvents(ctx, fn, reject)
	}
	return flushAfter(ctx, w, r.run(ctx, stream, func(e mirror.PriceEvent) mirror.AddressFields { return e.Address }))
}

// flushAfter writes the rows still buffered once a table's stream ends. Rows
// matched before a read failure are kept; after cancellation nothing more is
// written.
func flushAfter[R load.Row](ctx context.Context, w *load.Writer[R], runErr error) error {
	if runErr != nil && ctx.Err() != nil {
		return runErr
	}
	if err := w.Flush(ctx); err != nil {
		return err
	}
	return runErr
}

func (s *Stats) countMatch(method match.Method) {
	s.Matched++
	switch method {
	case match.MethodExact:
		s.ExactMatched++
	case match.MethodLoose:
		s.LooseMatched++
	case match.MethodSpatial:
		s.SpatialMatched++
	}
}

func (o *Orchestrator) report(stats Stats) {
	if o.reporter != nil {
		o.reporter.Update(stats)
	}
}

// resolver runs the exact pass while streaming and the spatial pass once the
// stream ends.
type resolver[T any] struct {
	o      *Orchestrator
	table  string
	stats  *Stats
	read   *int
	logger zerolog.Logger
	emit   func(rec T, propertyID int64, method match.Method) error
	// live returns stats with the writer's counters so far folded in.
	live func() Stats
}

func (r *resolver[T]) run(
	ctx context.Context,
	stream func(fn func(T) error, reject func(mirror.Rejected)) error,
	addressOf func(T) mirror.AddressFields,
) error {
	start := time.Now()
	var candidates []match.Candidate[T]

	tick := func() {
		if *r.read%r.o.config.ProgressEvery == 0 {
			r.progress(start, len(candidates))
		}
	}
	reject := func(rej mirror.Rejected) {
		*r.read++
		r.logger.Debug().Err(rej.Err).Str("table", rej.Table).Int64("mirror_id", rej.ID).Msg("undecodable row skipped")
		r.stats.skip(skipInvalid)
		tick()
	}

	err := stream(func(rec T) error {
		*r.read++
		addr := addressOf(rec)

		if id, method, ok := r.o.exact.Match(addr.PostalCode, addr.HouseNumber, addr.Addition); ok {
			if err := r.emit(rec, id, method); err != nil {
				return err
			}
		} else if addr.HasCoordinates() {
			candidates = append(candidates, match.NewCandidate(*addr.Latitude, *addr.Longitude, rec))
		} else {
			r.stats.skip(skipNoCoordinates)
		}

		tick()
		return nil
	}, reject)
	if err != nil && ctx.Err() != nil {
		return err
	}
	r.progress(start, len(candidates))

	// Candidates buffered before a read failure still get their spatial pass.
	if perr := r.spatialPass(ctx, candidates); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func (r *resolver[T]) spatialPass(ctx context.Context, candidates []match.Candidate[T]) error {
	if len(candidates) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	matches, err := r.o.spatial.Resolve(ctx, match.UniquePoints(candidates))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.logger.Error().Err(err).Str("table", r.table).Int("candidates", len(candidates)).Msg("spatial fallback failed; candidates skipped")
		r.stats.Errors++
		for range candidates {
			r.stats.skip(skipNoMatch)
		}
		return nil
	}

	for _, c := range candidates {
		m, ok := matches[c.Key]
		if !ok {
			r.stats.skip(skipNoMatch)
			continue
		}
		if err := r.emit(c.Record, m.PropertyID, match.MethodSpatial); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver[T]) progress(start time.Time, pending int) {
	snapshot := r.live()
	elapsed := time.Since(start)
	r.logger.Info().
		Str("table", r.table).
		Int("read", *r.read).
		Int("matched", snapshot.Matched).
		Int("skipped", snapshot.Skipped).
		Int("duplicate", snapshot.Duplicate).
		Int("errors", snapshot.Errors).
		Int("spatial_pending", pending).
		Float64("rate_per_sec", logging.Rate(*r.read, elapsed)).
		Msg("progress")
	r.o.report(snapshot)
}
