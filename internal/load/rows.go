// Package load turns resolved mirror records into destination rows and
// writes them with parameter-bounded, conflict-skipping multi-row inserts.
package load

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/woonkaart/importer/internal/mirror"
)

// ErrInvalidRow marks records that fail validation; they are skipped.
var ErrInvalidRow = errors.New("invalid row")

// Row is a destination row with a natural unique key.
type Row interface {
	Key() string
	Values() []interface{}
}

// Table describes a destination table for the Postgres flusher.
type Table struct {
	Name            string
	Columns         []string
	ConflictColumns []string
}

// ListingsTable is unique on source_url.
var ListingsTable = Table{
	Name: "listings",
	Columns: []string{
		"property_id", "source", "source_url", "price", "living_area", "rooms",
		"energy_label", "status", "photo_urls", "first_seen_at", "last_seen_at",
		"match_method",
	},
	ConflictColumns: []string{"source_url"},
}

// PriceHistoryTable is unique on (property_id, event_date, price, event_type).
var PriceHistoryTable = Table{
	Name:            "price_history",
	Columns:         []string{"property_id", "source", "price", "event_date", "event_type"},
	ConflictColumns: []string{"property_id", "event_date", "price", "event_type"},
}

// ListingRow is a validated listing resolved to a property.
type ListingRow struct {
	PropertyID  int64
	Source      string
	SourceURL   string
	Price       int64
	LivingArea  *int64
	Rooms       *int64
	EnergyLabel string
	Status      string
	PhotoURLs   []string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	MatchMethod string
}

// Key is the listing's source URL.
func (r ListingRow) Key() string { return r.SourceURL }

// Values follows ListingsTable.Columns.
func (r ListingRow) Values() []interface{} {
	return []interface{}{
		r.PropertyID, r.Source, r.SourceURL, r.Price,
		nullableInt(r.LivingArea), nullableInt(r.Rooms),
		nullableString(r.EnergyLabel), r.Status, pq.Array(r.PhotoURLs),
		nullableTime(r.FirstSeenAt), nullableTime(r.LastSeenAt),
		r.MatchMethod,
	}
}

// PriceHistoryRow is a validated price event resolved to a property.
type PriceHistoryRow struct {
	PropertyID int64
	Source     string
	Price      int64
	EventDate  time.Time
	EventType  string
}

// Key is (property, date, price, event type).
func (r PriceHistoryRow) Key() string {
	return strconv.FormatInt(r.PropertyID, 10) + "|" + r.EventDate.Format(dateLayout) + "|" +
		strconv.FormatInt(r.Price, 10) + "|" + r.EventType
}

// Values follows PriceHistoryTable.Columns.
func (r PriceHistoryRow) Values() []interface{} {
	return []interface{}{r.PropertyID, r.Source, r.Price, r.EventDate.Format(dateLayout), r.EventType}
}

const dateLayout = "2006-01-02"

var (
	hundred  = decimal.NewFromInt(100)
	maxPrice = decimal.NewFromInt(math.MaxInt64)
	minPrice = decimal.NewFromInt(math.MinInt64)
)

// PriceFromMinorUnits converts a price in cents to whole currency units,
// rounding half away from zero: "450000" -> 4500, "450050" -> 4501.
func PriceFromMinorUnits(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: missing price", ErrInvalidRow)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", ErrInvalidRow, raw, err)
	}
	units := d.Div(hundred).Round(0)
	if units.GreaterThan(maxPrice) || units.LessThan(minPrice) {
		return 0, fmt.Errorf("%w: price %q out of range", ErrInvalidRow, raw)
	}
	return units.IntPart(), nil
}

var energyLabelPattern = regexp.MustCompile(`^(A\+{0,4}|[B-G])$`)

// EnergyLabel returns the upper-cased label, or "" when it is not a valid
// EU energy label.
func EnergyLabel(raw string) string {
	label := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if energyLabelPattern.MatchString(label) {
		return label
	}
	return ""
}

var statusAliases = map[string]string{
	"available":                 "available",
	"for sale":                  "available",
	"for rent":                  "available",
	"beschikbaar":               "available",
	"te koop":                   "available",
	"te huur":                   "available",
	"under offer":               "under_offer",
	"under_offer":               "under_offer",
	"onder bod":                 "under_offer",
	"onder optie":               "under_offer",
	"sold":                      "sold",
	"verkocht":                  "sold",
	"sold subject to contract":  "sold",
	"verkocht onder voorbehoud": "sold",
	"rented":                    "rented",
	"verhuurd":                  "rented",
	"withdrawn":                 "withdrawn",
	"ingetrokken":               "withdrawn",
}

// Status maps a mirror status onto the destination enum.
func Status(raw string) string {
	if s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return "unknown"
}

// NewListingRow validates a mirror listing resolved to propertyID.
func NewListingRow(source string, l mirror.Listing, propertyID int64, method string) (ListingRow, error) {
	url := strings.TrimSpace(l.URL)
	if url == "" {
		return ListingRow{}, fmt.Errorf("%w: listing %d has no url", ErrInvalidRow, l.ID)
	}
	price, err := PriceFromMinorUnits(l.AskingPriceCents)
	if err != nil {
		return ListingRow{}, err
	}
	if price <= 0 {
		return ListingRow{}, fmt.Errorf("%w: listing %d has non-positive price", ErrInvalidRow, l.ID)
	}

	row := ListingRow{
		PropertyID:  propertyID,
		Source:      source,
		SourceURL:   url,
		Price:       price,
		EnergyLabel: EnergyLabel(l.EnergyLabel),
		Status:      Status(l.Status),
		PhotoURLs:   cleanURLs(l.PhotoURLs),
		FirstSeenAt: l.MirrorCreatedAt,
		LastSeenAt:  l.MirrorUpdatedAt,
		MatchMethod: method,
	}
	if l.LivingAreaM2.Valid && l.LivingAreaM2.Int64 >= 0 {
		v := l.LivingAreaM2.Int64
		row.LivingArea = &v
	}
	if l.Rooms.Valid && l.Rooms.Int64 >= 0 {
		v := l.Rooms.Int64
		row.Rooms = &v
	}
	return row, nil
}

// NewPriceHistoryRow validates a mirror price event resolved to propertyID.
func NewPriceHistoryRow(source string, e mirror.PriceEvent, propertyID int64) (PriceHistoryRow, error) {
	if !e.EventDate.Valid || e.EventDate.Time.IsZero() {
		return PriceHistoryRow{}, fmt.Errorf("%w: price event %d has no date", ErrInvalidRow, e.ID)
	}
	price, err := PriceFromMinorUnits(e.PriceCents)
	if err != nil {
		return PriceHistoryRow{}, err
	}
	if price <= 0 {
		return PriceHistoryRow{}, fmt.Errorf("%w: price event %d has non-positive price", ErrInvalidRow, e.ID)
	}

	eventType := strings.ToLower(strings.TrimSpace(e.EventType))
	if eventType == "" {
		eventType = "unknown"
	}

	d := e.EventDate.Time
	return PriceHistoryRow{
		PropertyID: propertyID,
		Source:     source,
		Price:      price,
		EventDate:  time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		EventType:  eventType,
	}, nil
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
