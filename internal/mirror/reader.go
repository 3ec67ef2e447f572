package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

const listingPageQuery = `
	SELECT l.id, COALESCE(l.url, ''), COALESCE(l.asking_price_cents::text, ''),
	       l.living_area_m2, l.rooms,
	       COALESCE(l.energy_label, ''), COALESCE(l.status, ''), l.photo_urls,
	       l.created_at, l.updated_at,
	       COALESCE(a.postal_code, ''), COALESCE(a.house_number::text, ''),
	       COALESCE(a.house_number_addition, ''), COALESCE(a.city, ''),
	       a.latitude, a.longitude
	FROM listings l
	JOIN addresses a ON a.id = l.address_id
	WHERE l.id > $1
	  AND ($3 = '' OR lower(a.city) = lower($3))
	ORDER BY l.id
	LIMIT $2
`

const priceEventPageQuery = `
	SELECT ph.id, COALESCE(ph.price_cents::text, ''), ph.event_date,
	       COALESCE(ph.event_type, ''),
	       COALESCE(a.postal_code, ''), COALESCE(a.house_number::text, ''),
	       COALESCE(a.house_number_addition, ''), COALESCE(a.city, ''),
	       a.latitude, a.longitude
	FROM price_history ph
	JOIN addresses a ON a.id = ph.address_id
	WHERE ph.id > $1
	  AND ($3 = '' OR lower(a.city) = lower($3))
	ORDER BY ph.id
	LIMIT $2
`

// Reader streams one mirror database with keyset pagination.
type Reader struct {
	name     string
	db       *sql.DB
	pageSize int
	city     string
}

// NewReader creates a mirror reader. city, when non-empty, scopes every
// query to addresses in that city (case-insensitive).
func NewReader(name string, db *sql.DB, pageSize int, city string) *Reader {
	if pageSize <= 0 {
		pageSize = 5000
	}
	return &Reader{name: name, db: db, pageSize: pageSize, city: city}
}

// Name is the source identifier, e.g. "sourceA".
func (r *Reader) Name() string { return r.name }

// Listings calls fn for every listing in id order. Each page is fully read
// and its cursor closed before fn runs. Rows that fail to decode are passed
// to reject, which may be nil, and the stream continues.
func (r *Reader) Listings(ctx context.Context, fn func(Listing) error, reject func(Rejected)) error {
	return streamPages(ctx, r, "listings", listingPageQuery, scanListing, fn, reject)
}

// PriceEvents calls fn for every price history row in id order.
func (r *Reader) PriceEvents(ctx context.Context, fn func(PriceEvent) error, reject func(Rejected)) error {
	return streamPages(ctx, r, "price_history", priceEventPageQuery, scanPriceEvent, fn, reject)
}

// page is one keyset page. lastID and rows cover rejected rows too, so the
// cursor moves past a row that never decodes.
type page[T any] struct {
	records  []T
	rejected []Rejected
	rows     int
	lastID   int64
}

func streamPages[T any](
	ctx context.Context,
	r *Reader,
	table string,
	query string,
	scan func(*sql.Rows) (T, int64, error),
	fn func(T) error,
	reject func(Rejected),
) error {
	lastID := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, err := readPage(ctx, r, table, query, lastID, scan)
		if err != nil {
			return fmt.Errorf("%s: failed to read page after id %d: %w", r.name, lastID, err)
		}

		for _, rej := range p.rejected {
			if reject != nil {
				reject(rej)
			}
		}
		for _, rec := range p.records {
			if err := fn(rec); err != nil {
				return err
			}
		}

		if p.rows < r.pageSize {
			return nil
		}
		lastID = p.lastID
	}
}

func readPage[T any](ctx context.Context, r *Reader, table, query string, afterID int64, scan func(*sql.Rows) (T, int64, error)) (page[T], error) {
	p := page[T]{lastID: afterID}
	rows, err := r.db.QueryContext(ctx, query, afterID, r.pageSize, r.city)
	if err != nil {
		return p, err
	}
	defer rows.Close()

	p.records = make([]T, 0, r.pageSize)
	for rows.Next() {
		p.rows++
		rec, id, err := scan(rows)
		if err != nil {
			id = rowID(rows)
			if id <= p.lastID {
				return p, fmt.Errorf("undecodable row after id %d: %w", p.lastID, err)
			}
			p.rejected = append(p.rejected, Rejected{Table: table, ID: id, Err: err})
		} else {
			p.records = append(p.records, rec)
		}
		p.lastID = id
	}
	return p, rows.Err()
}

// rowID rescans the current row untyped to recover its id column.
func rowID(rows *sql.Rows) int64 {
	cols, err := rows.Columns()
	if err != nil || len(cols) == 0 {
		return 0
	}
	raw := make([]interface{}, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return 0
	}
	switch v := raw[0].(type) {
	case int64:
		return v
	case []byte:
		id, _ := strconv.ParseInt(string(v), 10, 64)
		return id
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

func scanListing(rows *sql.Rows) (Listing, int64, error) {
	var (
		l                Listing
		url              sql.NullString
		created, updated sql.NullTime
	)
	err := rows.Scan(
		&l.ID, &url, &l.AskingPriceCents,
		&l.LivingAreaM2, &l.Rooms,
		&l.EnergyLabel, &l.Status, pq.Array(&l.PhotoURLs),
		&created, &updated,
		&l.Address.PostalCode, &l.Address.HouseNumber,
		&l.Address.Addition, &l.Address.City,
		&l.Address.Latitude, &l.Address.Longitude,
	)
	if err != nil {
		return l, l.ID, err
	}
	l.URL = url.String
	l.MirrorCreatedAt = created.Time
	l.MirrorUpdatedAt = updated.Time
	return l, l.ID, nil
}

func scanPriceEvent(rows *sql.Rows) (PriceEvent, int64, error) {
	var e PriceEvent
	err := rows.Scan(
		&e.ID, &e.PriceCents, &e.EventDate, &e.EventType,
		&e.Address.PostalCode, &e.Address.HouseNumber,
		&e.Address.Addition, &e.Address.City,
		&e.Address.Latitude, &e.Address.Longitude,
	)
	return e, e.ID, err
}
