package pipeline

import "time"

// Stats are the per-source counters. Each source gets its own value, so one
// source's failures never show up in another's accounting.
type Stats struct {
	Source string `json:"source"`

	ListingsRead    int `json:"listings_read"`
	PriceEventsRead int `json:"price_events_read"`

	Matched        int `json:"matched"`
	ExactMatched   int `json:"exact_matched"`
	LooseMatched   int `json:"loose_matched"`
	SpatialMatched int `json:"spatial_matched"`

	Skipped              int `json:"skipped"`
	SkippedNoMatch       int `json:"skipped_no_match"`
	SkippedNoCoordinates int `json:"skipped_no_coordinates"`
	SkippedInvalid       int `json:"skipped_invalid"`

	Duplicate            int `json:"duplicate"`
	ListingsInserted     int `json:"listings_inserted"`
	PriceHistoryInserted int `json:"price_history_inserted"`
	Errors               int `json:"errors"`
	DroppedRows          int `json:"dropped_rows"`

	Done    bool          `json:"done"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Read is the number of mirror records consumed.
func (s Stats) Read() int { return s.ListingsRead + s.PriceEventsRead }

type skipReason int

const (
	skipNoMatch skipReason = iota
	skipNoCoordinates
	skipInvalid
)

func (s *Stats) skip(reason skipReason) {
	s.Skipped++
	switch reason {
	case skipNoMatch:
		s.SkippedNoMatch++
	case skipNoCoordinates:
		s.SkippedNoCoordinates++
	case skipInvalid:
		s.SkippedInvalid++
	}
}

// Total sums the counters of several sources.
func Total(all []Stats) Stats {
	t := Stats{Source: "total", Done: true}
	for _, s := range all {
		t.ListingsRead += s.ListingsRead
		t.PriceEventsRead += s.PriceEventsRead
		t.Matched += s.Matched
		t.ExactMatched += s.ExactMatched
		t.LooseMatched += s.LooseMatched
		t.SpatialMatched += s.SpatialMatched
		t.Skipped += s.Skipped
		t.SkippedNoMatch += s.SkippedNoMatch
		t.SkippedNoCoordinates += s.SkippedNoCoordinates
		t.SkippedInvalid += s.SkippedInvalid
		t.Duplicate += s.Duplicate
		t.ListingsInserted += s.ListingsInserted
		t.PriceHistoryInserted += s.PriceHistoryInserted
		t.Errors += s.Errors
		t.DroppedRows += s.DroppedRows
		t.Elapsed += s.Elapsed
		t.Done = t.Done && s.Done
	}
	return t
}
