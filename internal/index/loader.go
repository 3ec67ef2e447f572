package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/woonkaart/importer/internal/logging"
	"github.com/woonkaart/importer/internal/normalize"
)

// propertyPageQuery reads one keyset page of the catalog. OFFSET paging would
// rescan every skipped row on each page, so the cursor is the last seen id.
const propertyPageQuery = `
	SELECT id, postal_code, house_number::text, COALESCE(house_number_addition, '')
	FROM properties
	WHERE id > $1
	ORDER BY id
	LIMIT $2
`

// LoadStats describes one catalog load.
type LoadStats struct {
	Rows        int
	Indexed     int
	LooseOnly   int
	Unparseable int
	Collisions  int
	Elapsed     time.Duration
}

// Loader streams the destination catalog into a PropertyIndex.
type Loader struct {
	db            *sql.DB
	pageSize      int
	progressEvery int
	logger        zerolog.Logger
}

// NewLoader creates a catalog loader.
func NewLoader(db *sql.DB, pageSize, progressEvery int, logger zerolog.Logger) *Loader {
	if pageSize <= 0 {
		pageSize = 10000
	}
	if progressEvery <= 0 {
		progressEvery = 100000
	}
	return &Loader{db: db, pageSize: pageSize, progressEvery: progressEvery, logger: logger}
}

// Load reads every property ordered by id and returns the built index.
func (l *Loader) Load(ctx context.Context) (*PropertyIndex, *LoadStats, error) {
	done := logging.Timing(l.logger, "load property index")
	defer done()

	start := time.Now()
	stats := &LoadStats{}
	builder := NewBuilder(l.pageSize)
	lastID := int64(0)
	nextProgress := l.progressEvery

	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		n, maxID, err := l.loadPage(ctx, builder, lastID, stats)
		if err != nil {
			return nil, stats, fmt.Errorf("failed to load properties after id %d: %w", lastID, err)
		}
		if n == 0 {
			break
		}
		lastID = maxID

		if stats.Rows >= nextProgress {
			l.logger.Info().
				Int("rows", stats.Rows).
				Int64("last_id", lastID).
				Float64("rate_per_sec", logging.Rate(stats.Rows, time.Since(start))).
				Msg("loading property index")
			nextProgress += l.progressEvery
		}

		if n < l.pageSize {
			break
		}
	}

	pi := builder.Build()
	stats.Collisions = pi.Collisions()
	stats.Elapsed = time.Since(start)

	l.logger.Info().
		Int("rows", stats.Rows).
		Int("entries", pi.Len()).
		Int("collisions", stats.Collisions).
		Int("unparseable", stats.Unparseable).
		Dur("elapsed", stats.Elapsed).
		Msg("property index ready")

	return pi, stats, nil
}

func (l *Loader) loadPage(ctx context.Context, builder *Builder, afterID int64, stats *LoadStats) (int, int64, error) {
	rows, err := l.db.QueryContext(ctx, propertyPageQuery, afterID, l.pageSize)
	if err != nil {
		return 0, afterID, err
	}
	defer rows.Close()

	n := 0
	maxID := afterID
	for rows.Next() {
		var (
			id                          int64
			postalCode, house, addition string
		)
		if err := rows.Scan(&id, &postalCode, &house, &addition); err != nil {
			return n, maxID, err
		}
		n++
		maxID = id
		stats.Rows++

		loose := normalize.LooseKey(postalCode, house, addition)
		addr, err := normalize.Canonicalize(postalCode, house, addition)
		if err != nil {
			if loose != "" {
				builder.AddLoose(loose, id)
				stats.LooseOnly++
			} else {
				stats.Unparseable++
			}
			continue
		}
		builder.Add(addr, loose, id)
		stats.Indexed++
	}
	return n, maxID, rows.Err()
}
