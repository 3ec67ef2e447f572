package match

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/woonkaart/importer/internal/logging"
	"github.com/woonkaart/importer/internal/sqlbatch"
)

// sphereTolerance absorbs the difference between the spheroid distance
// PostGIS reports and the spherical distance recomputed here.
const sphereTolerance = 1.005

const (
	createScratchSQL = `CREATE TEMP TABLE spatial_scratch (
		cache_key text PRIMARY KEY,
		geom      geometry(Point, 4326) NOT NULL
	) ON COMMIT DROP`

	indexScratchSQL   = `CREATE INDEX spatial_scratch_geom_idx ON spatial_scratch USING gist (geom)`
	analyzeScratchSQL = `ANALYZE spatial_scratch`

	// nearestSQL keeps the nearest property per scratch key. The && against
	// the expanded box uses the property GiST index before the exact
	// geography distance is computed.
	nearestSQL = `
		SELECT DISTINCT ON (s.cache_key)
			s.cache_key,
			p.id,
			ST_Y(p.geom) AS lat,
			ST_X(p.geom) AS lon,
			ST_Distance(s.geom::geography, p.geom::geography) AS distance_m
		FROM spatial_scratch s
		JOIN properties p
		  ON p.geom && ST_Expand(s.geom, $1::float8, $2::float8)
		WHERE ST_DWithin(s.geom::geography, p.geom::geography, $3::float8)
		ORDER BY s.cache_key, distance_m, p.id
	`
)

// SpatialConfig configures the nearest-property join.
type SpatialConfig struct {
	RadiusMeters      float64
	ReferenceLatitude float64
	// InsertBatchRows caps rows per scratch INSERT; 0 means parameter-bound only.
	InsertBatchRows int
}

// SpatialMatcher resolves points to the nearest catalog property within a
// radius using a PostGIS scratch table in the destination store.
type SpatialMatcher struct {
	db     *sql.DB
	config SpatialConfig
	logger zerolog.Logger
}

// NewSpatialMatcher creates a spatial matcher.
func NewSpatialMatcher(db *sql.DB, config SpatialConfig, logger zerolog.Logger) *SpatialMatcher {
	return &SpatialMatcher{db: db, config: config, logger: logger}
}

// Resolve returns the nearest property per point key. Points with no
// property inside the radius are absent from the result. The scratch table
// lives inside one transaction that is always rolled back, so nothing is
// persisted, which also makes Resolve safe to use in dry-run mode.
func (sm *SpatialMatcher) Resolve(ctx context.Context, points []Point) (map[string]SpatialMatch, error) {
	result := make(map[string]SpatialMatch)
	if len(points) == 0 {
		return result, nil
	}

	done := logging.Timing(sm.logger, "spatial fallback join")
	defer done()
	start := time.Now()

	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin spatial transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createScratchSQL); err != nil {
		return nil, fmt.Errorf("failed to create spatial scratch table: %w", err)
	}

	if err := sm.insertPoints(ctx, tx, points); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, indexScratchSQL); err != nil {
		return nil, fmt.Errorf("failed to index spatial scratch table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, analyzeScratchSQL); err != nil {
		return nil, fmt.Errorf("failed to analyze spatial scratch table: %w", err)
	}

	dLat, dLon := BoundingBoxDegrees(sm.config.RadiusMeters, sm.config.ReferenceLatitude)
	rows, err := tx.QueryContext(ctx, nearestSQL, dLon, dLat, sm.config.RadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("spatial join failed: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string]Point, len(points))
	for _, p := range points {
		byKey[p.Key] = p
	}

	rejected := 0
	for rows.Next() {
		var (
			m        SpatialMatch
			lat, lon float64
		)
		if err := rows.Scan(&m.Key, &m.PropertyID, &lat, &lon, &m.DistanceMeters); err != nil {
			return nil, fmt.Errorf("failed to scan spatial match: %w", err)
		}
		from, ok := byKey[m.Key]
		if !ok || !sm.withinRadius(from, lat, lon, m.DistanceMeters) || !sm.accept(m, result) {
			rejected++
			continue
		}
		result[m.Key] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spatial join failed: %w", err)
	}

	sm.logger.Info().
		Int("points", len(points)).
		Int("resolved", len(result)).
		Int("rejected", rejected).
		Float64("radius_m", sm.config.RadiusMeters).
		Dur("elapsed", time.Since(start)).
		Msg("spatial fallback complete")

	return result, nil
}

// withinRadius checks the database distance and recomputes it from the
// property coordinates, so a row outside the radius is never accepted.
func (sm *SpatialMatcher) withinRadius(from Point, lat, lon, distance float64) bool {
	if distance < 0 || distance > sm.config.RadiusMeters {
		return false
	}
	return HaversineMeters(from.Lat, from.Lon, lat, lon) <= sm.config.RadiusMeters*sphereTolerance
}

// accept keeps the nearest (then lowest id) match per key regardless of what
// order the database returned rows in.
func (sm *SpatialMatcher) accept(m SpatialMatch, current map[string]SpatialMatch) bool {
	prev, ok := current[m.Key]
	if !ok {
		return true
	}
	if m.DistanceMeters != prev.DistanceMeters {
		return m.DistanceMeters < prev.DistanceMeters
	}
	return m.PropertyID < prev.PropertyID
}

func (sm *SpatialMatcher) insertPoints(ctx context.Context, tx *sql.Tx, points []Point) error {
	const columns = 3
	size := sqlbatch.MaxRows(columns, sm.config.InsertBatchRows)

	for _, chunk := range sqlbatch.Chunks(len(points), size) {
		batch := points[chunk[0]:chunk[1]]
		args := make([]interface{}, 0, len(batch)*columns)
		for _, p := range batch {
			args = append(args, p.Key, p.Lon, p.Lat)
		}

		query := `
			INSERT INTO spatial_scratch (cache_key, geom)
			SELECT v.k, ST_SetSRID(ST_MakePoint(v.lon::float8, v.lat::float8), 4326)
			FROM (VALUES ` + sqlbatch.Values(len(batch), columns) + `) AS v(k, lon, lat)
			ON CONFLICT (cache_key) DO NOTHING`

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to load spatial scratch rows %d-%d: %w", chunk[0], chunk[1], err)
		}
	}
	return nil
}
