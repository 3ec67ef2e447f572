package load

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresFlusherSkipsConflicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	table := Table{Name: "price_history", Columns: PriceHistoryTable.Columns, ConflictColumns: PriceHistoryTable.ConflictColumns}
	f := NewPostgresFlusher[PriceHistoryRow](db, table)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := []PriceHistoryRow{
		{PropertyID: 1, Source: "sourceA", Price: 4500, EventDate: day, EventType: "listed"},
		{PropertyID: 2, Source: "sourceA", Price: 5000, EventDate: day, EventType: "listed"},
	}

	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO "price_history" ("property_id", "source", "price", "event_date", "event_type") VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10) ON CONFLICT ("property_id", "event_date", "price", "event_type") DO NOTHING`)).
		WithArgs(1, "sourceA", 4500, "2024-01-02", "listed", 2, "sourceA", 5000, "2024-01-02", "listed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := f.Flush(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFlusherError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	f := NewPostgresFlusher[ListingRow](db, ListingsTable)
	mock.ExpectExec("INSERT INTO \"listings\"").WillReturnError(errors.New("deadlock detected"))

	_, err = f.Flush(context.Background(), []ListingRow{listingRow("u1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listings")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingExistenceCheckCountsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(listingExistsSQL)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	check := NewListingExistenceCheck(db)
	wouldInsert, err := check.Flush(context.Background(), []ListingRow{listingRow("a"), listingRow("b"), listingRow("c")})
	require.NoError(t, err)
	assert.Equal(t, 1, wouldInsert)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceHistoryExistenceCheckIsReadOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT count").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	check := NewPriceHistoryExistenceCheck(db)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	wouldInsert, err := check.Flush(context.Background(), []PriceHistoryRow{
		{PropertyID: 1, Price: 4500, EventDate: day, EventType: "listed"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, wouldInsert)
	assert.NoError(t, mock.ExpectationsWereMet())
}
