package match

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nearestCols = []string{"cache_key", "id", "lat", "lon", "distance_m"}

func newSpatialMock(t *testing.T) (*SpatialMatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sm := NewSpatialMatcher(db, SpatialConfig{RadiusMeters: 50, ReferenceLatitude: 52.1}, zerolog.Nop())
	return sm, mock
}

func TestSpatialResolveNearestWithinRadius(t *testing.T) {
	sm, mock := newSpatialMock(t)

	near := Point{Key: PointKey(51.4300, 5.4500), Lat: 51.4300, Lon: 5.4500}
	far := Point{Key: PointKey(51.4345, 5.4500), Lat: 51.4345, Lon: 5.4500}

	// Distances as PostGIS would compute them to the property at
	// (51.4301, 5.4501); the far row simulates a database that returned it
	// anyway and must still be rejected.
	nearDist := HaversineMeters(near.Lat, near.Lon, 51.4301, 5.4501)
	farDist := HaversineMeters(far.Lat, far.Lon, 51.4301, 5.4501)
	require.Less(t, nearDist, 50.0)
	require.Greater(t, farDist, 400.0)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE spatial_scratch").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO spatial_scratch").
		WithArgs(near.Key, near.Lon, near.Lat, far.Key, far.Lon, far.Lat).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("CREATE INDEX spatial_scratch_geom_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ANALYZE spatial_scratch").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("DISTINCT ON").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 50.0).
		WillReturnRows(sqlmock.NewRows(nearestCols).
			AddRow(near.Key, int64(42), 51.4301, 5.4501, nearDist).
			AddRow(far.Key, int64(42), 51.4301, 5.4501, farDist))
	mock.ExpectRollback()

	got, err := sm.Resolve(context.Background(), []Point{near, far})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Contains(t, got, near.Key)
	assert.Equal(t, int64(42), got[near.Key].PropertyID)
	assert.NotContains(t, got, far.Key)
	for _, m := range got {
		assert.LessOrEqual(t, m.DistanceMeters, 50.0)
	}
}

func TestSpatialResolveNoPoints(t *testing.T) {
	sm, mock := newSpatialMock(t)

	got, err := sm.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSpatialResolveJoinFailureRollsBack(t *testing.T) {
	sm, mock := newSpatialMock(t)
	p := Point{Key: "k", Lat: 51.43, Lon: 5.45}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO spatial_scratch").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("CREATE INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ANALYZE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("DISTINCT ON").WillReturnError(errors.New("function st_dwithin does not exist"))
	mock.ExpectRollback()

	_, err := sm.Resolve(context.Background(), []Point{p})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spatial join failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSpatialResolveRejectsCoordinatesOutsideRadius(t *testing.T) {
	sm, mock := newSpatialMock(t)
	p := Point{Key: PointKey(51.4300, 5.4500), Lat: 51.4300, Lon: 5.4500}

	// The reported distance is inside the radius but the property sits about
	// 500 m away.
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO spatial_scratch").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("CREATE INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ANALYZE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("DISTINCT ON").
		WillReturnRows(sqlmock.NewRows(nearestCols).AddRow(p.Key, int64(42), 51.4345, 5.4500, 12.0))
	mock.ExpectRollback()

	got, err := sm.Resolve(context.Background(), []Point{p})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, got)
}

func TestSpatialWithinRadius(t *testing.T) {
	sm := &SpatialMatcher{config: SpatialConfig{RadiusMeters: 50}}
	from := Point{Lat: 51.4300, Lon: 5.4500}

	d := HaversineMeters(from.Lat, from.Lon, 51.4301, 5.4501)
	assert.True(t, sm.withinRadius(from, 51.4301, 5.4501, d))
	assert.False(t, sm.withinRadius(from, 51.4301, 5.4501, 50.01))
	assert.False(t, sm.withinRadius(from, 51.4301, 5.4501, -1))
	assert.False(t, sm.withinRadius(from, 51.4345, 5.4500, 12))
}

func TestSpatialAcceptPrefersNearestThenLowestID(t *testing.T) {
	sm := &SpatialMatcher{config: SpatialConfig{RadiusMeters: 50}}
	current := map[string]SpatialMatch{"k": {Key: "k", PropertyID: 7, DistanceMeters: 10}}

	assert.True(t, sm.accept(SpatialMatch{Key: "k", PropertyID: 9, DistanceMeters: 5}, current))
	assert.False(t, sm.accept(SpatialMatch{Key: "k", PropertyID: 9, DistanceMeters: 10}, current))
	assert.True(t, sm.accept(SpatialMatch{Key: "k", PropertyID: 3, DistanceMeters: 10}, current))
	assert.True(t, sm.accept(SpatialMatch{Key: "x", PropertyID: 1, DistanceMeters: 40}, current))
}
