package load

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const (
	listingExistsSQL = `SELECT count(*) FROM listings WHERE source_url = ANY($1)`

	priceHistoryExistsSQL = `
		SELECT count(*)
		FROM unnest($1::bigint[], $2::date[], $3::bigint[], $4::text[])
		     AS k(property_id, event_date, price, event_type)
		WHERE EXISTS (
			SELECT 1 FROM price_history ph
			WHERE ph.property_id = k.property_id
			  AND ph.event_date = k.event_date
			  AND ph.price = k.price
			  AND ph.event_type = k.event_type
		)`
)

// ExistenceCheck is the dry-run stand-in for PostgresFlusher. It only reads: it
// counts how many of the batch's keys already exist in the destination and
// reports the rest as the rows that would have been inserted.
type ExistenceCheck[R Row] struct {
	db    *sql.DB
	table string
	query string
	args  func([]R) []interface{}
}

// Flush reports how many rows a live flush would insert.
func (c *ExistenceCheck[R]) Flush(ctx context.Context, rows []R) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var existing int
	if err := c.db.QueryRowContext(ctx, c.query, c.args(rows)...).Scan(&existing); err != nil {
		return 0, fmt.Errorf("existence check on %s failed: %w", c.table, err)
	}
	if existing > len(rows) {
		existing = len(rows)
	}
	return len(rows) - existing, nil
}

// NewListingExistenceCheck checks listing source URLs.
func NewListingExistenceCheck(db *sql.DB) *ExistenceCheck[ListingRow] {
	return &ExistenceCheck[ListingRow]{
		db:    db,
		table: ListingsTable.Name,
		query: listingExistsSQL,
		args: func(rows []ListingRow) []interface{} {
			urls := make([]string, len(rows))
			for i, r := range rows {
				urls[i] = r.SourceURL
			}
			return []interface{}{pq.Array(urls)}
		},
	}
}

// NewPriceHistoryExistenceCheck checks price history natural keys.
func NewPriceHistoryExistenceCheck(db *sql.DB) *ExistenceCheck[PriceHistoryRow] {
	return &ExistenceCheck[PriceHistoryRow]{
		db:    db,
		table: PriceHistoryTable.Name,
		query: priceHistoryExistsSQL,
		args: func(rows []PriceHistoryRow) []interface{} {
			ids := make([]int64, len(rows))
			dates := make([]string, len(rows))
			prices := make([]int64, len(rows))
			types := make([]string, len(rows))
			for i, r := range rows {
				ids[i] = r.PropertyID
				dates[i] = r.EventDate.Format(dateLayout)
				prices[i] = r.Price
				types[i] = r.EventType
			}
			return []interface{}{pq.Array(ids), pq.Array(dates), pq.Array(prices), pq.Array(types)}
		},
	}
}
